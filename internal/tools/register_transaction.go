package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/match"
	"github.com/tallyfinance/tally/internal/tracing"
)

// RegisterTransactionTool writes one expense into the ledger. It is
// the only multi-turn tool: when amount or category is missing or the
// category mention is ambiguous, it answers with a prompt plus a
// pending state instead of writing anything.
type RegisterTransactionTool struct {
	ledger *ledger.Ledger
}

func NewRegisterTransactionTool(led *ledger.Ledger) *RegisterTransactionTool {
	return &RegisterTransactionTool{ledger: led}
}

func (t *RegisterTransactionTool) Name() string { return "register_transaction" }

func (t *RegisterTransactionTool) Description() string {
	return "Registra un gasto o ingreso del usuario en su cuenta"
}

func (t *RegisterTransactionTool) Parameters() ai.ToolParams {
	return ai.ToolParams{
		Type: "object",
		Properties: map[string]ai.ToolParam{
			"amount": {
				Type:        "number",
				Description: "Monto de la transaccion en CLP (pesos chilenos). Siempre positivo.",
			},
			"category": {
				Type:        "string",
				Description: "Nombre de la categoria (ej: comida, transporte, entretenimiento, arriendo, servicios)",
			},
			"posted_at": {
				Type:        "string",
				Description: "Fecha de la transaccion en formato ISO-8601 (YYYY-MM-DD). Si no se especifica, usar fecha de hoy.",
			},
			"payment_method": {
				Type:        "string",
				Description: "Metodo de pago usado (ej: efectivo, tarjeta, debito, credito). Si no se menciona, el backend usara el metodo por defecto del usuario.",
			},
			"description": {
				Type:        "string",
				Description: "Descripcion opcional del gasto (ej: almuerzo con amigos, uber al trabajo)",
			},
		},
		Required: []string{"amount", "category"},
	}
}

func (t *RegisterTransactionTool) RequiresContext() bool { return true }

func (t *RegisterTransactionTool) Execute(ctx context.Context, args map[string]any) *Result {
	user := ToolUserFromCtx(ctx)

	amount, hasAmount := numberArg(args, "amount")
	category, hasCategory := stringArg(args, "category")

	// A numeric choice answers a previous disambiguation prompt. Out of
	// range keeps the same candidates and asks again. Users who answer
	// with a name instead of a number get a pass when the name singles
	// out one candidate.
	if candidates := stringSlice(args["candidates"]); len(candidates) > 0 {
		idx := -1
		if choice, ok := numberArg(args, "choice"); ok {
			idx = int(choice)
		} else if hasCategory {
			if byName := match.Candidates(category, candidates); len(byName) == 1 {
				idx = indexOf(candidates, byName[0]) + 1
			}
		}
		if idx < 1 || idx > len(candidates) {
			return t.promptChoice(args, candidates)
		}
		category, hasCategory = candidates[idx-1], true
		args = cloneArgs(args, "choice", "candidates")
		args["category"] = category
	}

	if !hasAmount {
		msg := "¿Cuánto fue?"
		if hasCategory {
			msg = fmt.Sprintf("¿Cuánto gastaste en %s?", category)
		}
		return PromptResult(t.Name(), msg, &conversation.PendingSlotState{
			ToolName:      t.Name(),
			CollectedArgs: cloneArgs(args, "amount"),
			MissingArgs:   []string{"amount"},
			AskedAt:       time.Now().UTC(),
		})
	}

	cats, err := t.ledger.Categories.ListByUser(ctx, user.ID)
	if err != nil {
		return ErrorResult(t.Name(), CodeStorage, "No pude revisar tus categorías, intenta de nuevo en un rato.").WithError(err)
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	if len(names) == 0 {
		return ErrorResult(t.Name(), CodeNoCategories, "Todavía no tienes categorías creadas. Ábrelas en la app y volvemos a intentarlo.")
	}

	if !hasCategory {
		return PromptResult(t.Name(), fmt.Sprintf("¿En qué categoría lo anoto? Tienes: %s.", strings.Join(names, ", ")),
			&conversation.PendingSlotState{
				ToolName:      t.Name(),
				CollectedArgs: cloneArgs(args, "category"),
				MissingArgs:   []string{"category"},
				AskedAt:       time.Now().UTC(),
			})
	}

	matched := match.Candidates(category, names)
	switch len(matched) {
	case 1:
		category = matched[0]
	case 0:
		return PromptResult(t.Name(),
			fmt.Sprintf("No tengo una categoría que calce con \"%s\". Tienes: %s. ¿En cuál lo anoto?", category, strings.Join(names, ", ")),
			&conversation.PendingSlotState{
				ToolName:      t.Name(),
				CollectedArgs: cloneArgs(args, "category"),
				MissingArgs:   []string{"category"},
				AskedAt:       time.Now().UTC(),
			})
	default:
		collected := cloneArgs(args, "category")
		collected["candidates"] = matched
		return t.promptChoice(collected, matched)
	}

	var matchedCat *ledger.Category
	for i := range cats {
		if cats[i].Name == category {
			matchedCat = &cats[i]
			break
		}
	}

	tx := &ledger.Transaction{
		UserID:        user.ID,
		Amount:        amount,
		Kind:          ledger.TransactionExpense,
		Category:      category,
		PostedAt:      parsePostedAt(args),
		PaymentMethod: user.DefaultPayment,
		Source:        ToolSourceFromCtx(ctx),
		CorrelationID: tracing.CorrelationIDFromContext(ctx),
	}
	if matchedCat != nil {
		tx.CategoryID = &matchedCat.ID
	}
	if pm, ok := stringArg(args, "payment_method"); ok {
		tx.PaymentMethod = pm
	}
	if desc, ok := stringArg(args, "description"); ok {
		tx.Description = desc
	}

	if err := t.ledger.Transactions.Insert(ctx, tx); err != nil {
		slog.Error("transaction insert failed", "user_id", user.ID, "error", err)
		return ErrorResult(t.Name(), CodeStorage, "No pude guardar el gasto, intenta de nuevo.").WithError(err)
	}

	return OKResult(t.Name(), map[string]any{
		"transaction_id": tx.ID.String(),
		"amount":         tx.Amount,
		"category":       tx.Category,
		"posted_at":      tx.PostedAt.Format("2006-01-02"),
		"payment_method": tx.PaymentMethod,
	})
}

// promptChoice asks the user to pick one candidate by number. The
// candidates ride along in the pending args so the follow-up choice
// can be resolved without re-matching.
func (t *RegisterTransactionTool) promptChoice(args map[string]any, candidates []string) *Result {
	var b strings.Builder
	b.WriteString("Tengo más de una categoría parecida. ¿Cuál era?")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c)
	}
	fmt.Fprintf(&b, "\nRespóndeme con el número (1-%d).", len(candidates))

	collected := cloneArgs(args, "choice")
	collected["candidates"] = candidates
	return PromptResult(t.Name(), b.String(), &conversation.PendingSlotState{
		ToolName:      t.Name(),
		CollectedArgs: collected,
		MissingArgs:   []string{"choice"},
		AskedAt:       time.Now().UTC(),
	})
}

// parsePostedAt reads the normalized YYYY-MM-DD slot. Absent or
// malformed dates mean today; guardrails already rejected future ones.
func parsePostedAt(args map[string]any) time.Time {
	raw, ok := stringArg(args, "posted_at")
	if !ok {
		return time.Now().UTC()
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Now().UTC()
	}
	return d
}

func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// stringSlice tolerates both []string from in-process callers and
// []any from pending state that round-tripped through JSON.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func indexOf(list []string, want string) int {
	for i, s := range list {
		if s == want {
			return i
		}
	}
	return -1
}

// cloneArgs copies args minus the listed keys, so pending state never
// aliases the caller's map.
func cloneArgs(args map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, k := range drop {
		delete(out, k)
	}
	return out
}
