package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Budget periods.
const (
	BudgetMonthly = "monthly"
	BudgetWeekly  = "weekly"
)

// Budget is a spending expectation. At most one budget per user is
// active at a time (enforced by a partial unique index).
type Budget struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Period    string    `json:"period"`
	Amount    float64   `json:"amount"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// PeriodStart returns the beginning of the budget period containing
// ref: the first of the month, or Monday for weekly budgets. The
// result stays in ref's location.
func (b *Budget) PeriodStart(ref time.Time) time.Time {
	switch b.Period {
	case BudgetWeekly:
		day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
		// time.Weekday counts Sunday as 0; weeks here start Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	}
}

// BudgetStore reads and writes spending expectations.
//
// ActiveBudget returns (nil, nil) when the user has none.
type BudgetStore interface {
	ActiveBudget(ctx context.Context, userID uuid.UUID) (*Budget, error)
	Upsert(ctx context.Context, budget *Budget) error
}
