package tools

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/ledger"
)

// The read-only query tools share one shape: zero args, resolved user
// from context, a data payload for Phase B to phrase. None of them
// prompt, so they never carry pending state.

func noParams() ai.ToolParams {
	return ai.ToolParams{
		Type:       "object",
		Properties: map[string]ai.ToolParam{},
		Required:   []string{},
	}
}

// BalanceTool reports the running month's totals.
type BalanceTool struct {
	ledger *ledger.Ledger
}

func NewBalanceTool(led *ledger.Ledger) *BalanceTool {
	return &BalanceTool{ledger: led}
}

func (t *BalanceTool) Name() string { return "ask_balance" }

func (t *BalanceTool) Description() string {
	return "Consulta el saldo actual del usuario en sus cuentas/metodos de pago"
}

func (t *BalanceTool) Parameters() ai.ToolParams { return noParams() }

func (t *BalanceTool) RequiresContext() bool { return true }

func (t *BalanceTool) Execute(ctx context.Context, args map[string]any) *Result {
	user := ToolUserFromCtx(ctx)
	now := time.Now().UTC()

	bal, err := t.ledger.Transactions.MonthBalance(ctx, user.ID, now)
	if err != nil {
		slog.Error("balance query failed", "user_id", user.ID, "error", err)
		return ErrorResult(t.Name(), CodeStorage, "No pude revisar tu balance, intenta de nuevo en un rato.").WithError(err)
	}

	return OKResult(t.Name(), map[string]any{
		"month":   now.Format("2006-01"),
		"income":  bal.Income,
		"expense": bal.Expense,
		"net":     bal.Net,
		"count":   bal.Count,
	})
}

// BudgetStatusTool reports spend against the active budget's current
// period. No active budget is a normal answer, not an error.
type BudgetStatusTool struct {
	ledger *ledger.Ledger
}

func NewBudgetStatusTool(led *ledger.Ledger) *BudgetStatusTool {
	return &BudgetStatusTool{ledger: led}
}

func (t *BudgetStatusTool) Name() string { return "ask_budget_status" }

func (t *BudgetStatusTool) Description() string {
	return "Consulta el estado del presupuesto activo del usuario (cuanto ha gastado vs su limite)"
}

func (t *BudgetStatusTool) Parameters() ai.ToolParams { return noParams() }

func (t *BudgetStatusTool) RequiresContext() bool { return true }

func (t *BudgetStatusTool) Execute(ctx context.Context, args map[string]any) *Result {
	user := ToolUserFromCtx(ctx)

	budget, err := t.ledger.Budgets.ActiveBudget(ctx, user.ID)
	if err != nil {
		slog.Error("budget query failed", "user_id", user.ID, "error", err)
		return ErrorResult(t.Name(), CodeStorage, "No pude revisar tu presupuesto, intenta de nuevo en un rato.").WithError(err)
	}
	if budget == nil {
		return OKResult(t.Name(), map[string]any{"has_budget": false})
	}

	since := budget.PeriodStart(time.Now().UTC())
	spent, err := t.ledger.Transactions.SumForBudget(ctx, user.ID, since)
	if err != nil {
		slog.Error("budget spend query failed", "user_id", user.ID, "error", err)
		return ErrorResult(t.Name(), CodeStorage, "No pude revisar tu presupuesto, intenta de nuevo en un rato.").WithError(err)
	}

	percent := 0.0
	if budget.Amount > 0 {
		percent = math.Round(spent/budget.Amount*1000) / 10
	}

	return OKResult(t.Name(), map[string]any{
		"has_budget": true,
		"period":     budget.Period,
		"amount":     budget.Amount,
		"spent":      spent,
		"remaining":  budget.Amount - spent,
		"percent":    percent,
	})
}

// GoalStatusTool reports savings goal progress, active goals first.
type GoalStatusTool struct {
	ledger *ledger.Ledger
}

func NewGoalStatusTool(led *ledger.Ledger) *GoalStatusTool {
	return &GoalStatusTool{ledger: led}
}

func (t *GoalStatusTool) Name() string { return "ask_goal_status" }

func (t *GoalStatusTool) Description() string {
	return "Consulta el progreso de las metas de ahorro del usuario"
}

func (t *GoalStatusTool) Parameters() ai.ToolParams { return noParams() }

func (t *GoalStatusTool) RequiresContext() bool { return true }

func (t *GoalStatusTool) Execute(ctx context.Context, args map[string]any) *Result {
	user := ToolUserFromCtx(ctx)

	goals, err := t.ledger.Goals.ListByUser(ctx, user.ID)
	if err != nil {
		slog.Error("goal query failed", "user_id", user.ID, "error", err)
		return ErrorResult(t.Name(), CodeStorage, "No pude revisar tus metas, intenta de nuevo en un rato.").WithError(err)
	}

	list := make([]map[string]any, 0, len(goals))
	for _, g := range goals {
		list = append(list, map[string]any{
			"name":     g.Name,
			"target":   g.TargetAmount,
			"saved":    g.SavedAmount,
			"progress": math.Round(g.Progress()*1000) / 10,
			"status":   g.Status,
		})
	}

	return OKResult(t.Name(), map[string]any{
		"count": len(list),
		"goals": list,
	})
}
