package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/fallback"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/tools"
)

// turnContext is everything the decision phases need about the user,
// assembled concurrently at the top of the cycle. Each assemble
// goroutine writes its own fields; Wait is the synchronization point.
type turnContext struct {
	user       ai.MinimalUserContext
	categories []string
	budget     *ledger.Budget
	spent      float64

	summary     string
	pending     *conversation.PendingSlotState
	metrics     conversation.EngagementMetrics
	cooldowns   conversation.Cooldowns
	lastOpening string
}

// cachedProfile is the slice of turnContext that costs ledger queries,
// cached for sixty seconds. Conversation state is always read fresh.
type cachedProfile struct {
	User       ai.MinimalUserContext `json:"user"`
	Categories []string              `json:"categories"`
	Budget     *ledger.Budget        `json:"budget,omitempty"`
	Spent      float64               `json:"spent"`
}

// assemble gathers the turn context. Ledger failures abort the cycle;
// state-store reads degrade to their absence semantics.
func (p *Pipeline) assemble(ctx context.Context, user *ledger.User) (*turnContext, error) {
	uid := user.ID.String()
	tc := &turnContext{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prof, err := p.profile(gctx, user)
		if err != nil {
			return err
		}
		tc.user = prof.User
		tc.categories = prof.Categories
		tc.budget = prof.Budget
		tc.spent = prof.Spent
		return nil
	})
	g.Go(func() error {
		s, _, err := p.state.Summary(gctx, uid)
		if err != nil {
			slog.Debug("summary read failed", "error", err)
		}
		tc.summary = s
		return nil
	})
	g.Go(func() error {
		pending, _, err := p.state.Pending(gctx, uid)
		if err != nil {
			slog.Debug("pending read failed", "error", err)
		}
		tc.pending = pending
		return nil
	})
	g.Go(func() error {
		em, err := p.state.Metrics(gctx, uid)
		if err != nil {
			slog.Debug("metrics read failed", "error", err)
		}
		tc.metrics = em
		return nil
	})
	g.Go(func() error {
		cds, err := p.state.Cooldowns(gctx, uid)
		if err != nil {
			slog.Debug("cooldowns read failed", "error", err)
		}
		tc.cooldowns = cds
		return nil
	})
	g.Go(func() error {
		op, _, err := p.state.LastOpening(gctx, uid)
		if err != nil {
			slog.Debug("opening read failed", "error", err)
		}
		tc.lastOpening = op
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tc, nil
}

// profile loads the ledger-backed user context through the short
// cache. A stale-but-fresh-enough profile beats four queries per
// message.
func (p *Pipeline) profile(ctx context.Context, user *ledger.User) (*cachedProfile, error) {
	uid := user.ID.String()
	if raw, ok, err := p.state.CachedContext(ctx, uid); err == nil && ok {
		var prof cachedProfile
		if json.Unmarshal(raw, &prof) == nil {
			return &prof, nil
		}
	}

	prof := &cachedProfile{
		User: ai.MinimalUserContext{
			UserID: uid,
			Personality: &ai.Personality{
				Tone:      user.PersonalityTone,
				Intensity: user.PersonalityIntensity,
			},
			Prefs: &ai.UserPrefs{
				NotificationLevel: user.NotificationLevel,
				UnifiedBalance:    user.UnifiedBalance,
			},
			GoalsSummary: []string{},
		},
	}

	cats, err := p.led.Categories.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	for _, c := range cats {
		if c.Kind == ledger.CategoryExpense {
			prof.Categories = append(prof.Categories, c.Name)
		}
	}

	budget, err := p.led.Budgets.ActiveBudget(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("active budget: %w", err)
	}
	if budget != nil {
		spent, err := p.led.Transactions.SumForBudget(ctx, user.ID, budget.PeriodStart(p.now()))
		if err != nil {
			return nil, fmt.Errorf("budget spend: %w", err)
		}
		prof.Budget = budget
		prof.Spent = spent
		prof.User.ActiveBudget = &ai.BudgetSnapshot{
			Period: budget.Period,
			Amount: budget.Amount,
			Spent:  &spent,
		}
	}

	goals, err := p.led.Goals.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	for _, goal := range goals {
		if goal.Status != ledger.GoalActive {
			continue
		}
		prof.User.GoalsSummary = append(prof.User.GoalsSummary, fmt.Sprintf("%s: %d%% (%s de %s)",
			goal.Name, int(goal.Progress()*100), fallback.Pesos(goal.SavedAmount), fallback.Pesos(goal.TargetAmount)))
	}

	if raw, err := json.Marshal(prof); err == nil {
		if err := p.state.SaveCachedContext(ctx, uid, raw); err != nil {
			slog.Debug("context cache save failed", "error", err)
		}
	}
	return prof, nil
}

// pendingContext converts stored slot state to its wire shape.
func (tc *turnContext) pendingContext() *ai.PendingSlotContext {
	if tc.pending == nil {
		return nil
	}
	return &ai.PendingSlotContext{
		Tool:          tc.pending.ToolName,
		CollectedArgs: tc.pending.CollectedArgs,
		MissingArgs:   tc.pending.MissingArgs,
		AskedAt:       tc.pending.AskedAt.UTC().Format(time.RFC3339),
	}
}

// runtimeContext assembles the extended context Phase B receives.
func (p *Pipeline) runtimeContext(tc *turnContext, em conversation.EngagementMetrics, style *ai.UserStyle, toolName string, res *tools.Result) *ai.RuntimeContext {
	now := p.now()
	pct := tc.budgetPercent(toolName, res)
	pc := p.cfg.PipelineTuning()
	return &ai.RuntimeContext{
		Summary: tc.summary,
		Metrics: &ai.UserMetrics{
			TxStreakDays:  em.ConsecutiveActiveDays,
			WeekTxCount:   em.RollingWeekCount,
			BudgetPercent: pct,
		},
		MoodHint:         moodHint(p.cfg.MoodTuning(), em, pct, tc.budgetElapsed(now), now),
		CanNudge:         tc.cooldowns.LastNudge == nil || now.Sub(*tc.cooldowns.LastNudge) >= pc.NudgeCooldown(),
		CanBudgetWarning: tc.cooldowns.LastBudgetWarning == nil || now.Sub(*tc.cooldowns.LastBudgetWarning) >= pc.BudgetWarnCooldown(),
		LastOpening:      tc.lastOpening,
		UserStyle:        style,
	}
}

// budgetPercent returns spent/amount for the active budget, folding in
// the amount a just-committed expense added after the snapshot was
// taken. nil when the user has no budget.
func (tc *turnContext) budgetPercent(toolName string, res *tools.Result) *float64 {
	if tc.budget == nil || tc.budget.Amount <= 0 {
		return nil
	}
	spent := tc.spent
	if toolName == toolRegisterTransaction && res != nil && res.OK {
		if v, ok := res.Data["amount"].(float64); ok {
			spent += v
		}
	}
	pct := spent / tc.budget.Amount
	return &pct
}

// budgetElapsed returns how far into the budget period now sits, in
// [0, 1]. Zero without an active budget.
func (tc *turnContext) budgetElapsed(now time.Time) float64 {
	if tc.budget == nil {
		return 0
	}
	start := tc.budget.PeriodStart(now)
	end := start.AddDate(0, 1, 0)
	if tc.budget.Period == ledger.BudgetWeekly {
		end = start.AddDate(0, 0, 7)
	}
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	e := float64(now.Sub(start)) / float64(total)
	if e < 0 {
		return 0
	}
	if e > 1 {
		return 1
	}
	return e
}
