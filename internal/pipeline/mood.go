package pipeline

import (
	"time"

	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
)

// moodHint compresses engagement and budget posture into the one-trit
// hint Phase B colors its phrasing with. Money stress outranks streak
// pride; a long quiet spell reads as down; everything else is neutral.
//
// budgetPercent is spent/amount for the active budget, periodElapsed
// how far into the budget period today sits. Comparing the two shares
// keeps the hint fair on day 3 of a month: 40% spent then is pressure,
// 40% spent on day 20 is comfort.
func moodHint(m config.MoodConfig, em conversation.EngagementMetrics, budgetPercent *float64, periodElapsed float64, now time.Time) int {
	if budgetPercent != nil && *budgetPercent > periodElapsed+m.BudgetPressure {
		return -1
	}
	if em.ConsecutiveActiveDays >= m.StreakDays &&
		(budgetPercent == nil || *budgetPercent < periodElapsed-m.BudgetRelief) {
		return 1
	}
	if em.LastTransactionAt != nil && now.Sub(*em.LastTransactionAt) >= time.Duration(m.QuietDays)*24*time.Hour {
		return -1
	}
	return 0
}
