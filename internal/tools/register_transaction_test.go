package tools

import (
	"strings"
	"testing"
	"time"
)

func TestRegisterTransactionComplete(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{
		"amount":      12500.0,
		"category":    "comida",
		"posted_at":   "2026-08-10",
		"description": "almuerzo con amigos",
	})

	if !res.OK || res.NeedsInput() {
		t.Fatalf("got ok=%v pending=%v, want a completed action", res.OK, res.Pending)
	}
	if got := res.Data["category"]; got != "Comida" {
		t.Errorf("category = %v, want Comida", got)
	}
	if got := res.Data["amount"]; got != 12500.0 {
		t.Errorf("amount = %v, want 12500", got)
	}
	if got := res.Data["posted_at"]; got != "2026-08-10" {
		t.Errorf("posted_at = %v, want 2026-08-10", got)
	}
	if got := res.Data["payment_method"]; got != "efectivo" {
		t.Errorf("payment_method = %v, want the user default efectivo", got)
	}

	bal, err := led.Transactions.MonthBalance(userCtx(user), user.ID, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("month balance: %v", err)
	}
	if bal.Count != 1 || bal.Expense != 12500 {
		t.Errorf("ledger shows count=%d expense=%v, want 1 and 12500", bal.Count, bal.Expense)
	}
}

func TestRegisterTransactionExplicitPayment(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{
		"amount":         8000.0,
		"category":       "transporte",
		"payment_method": "tarjeta",
	})
	if !res.OK || res.NeedsInput() {
		t.Fatalf("got ok=%v pending=%v, want a completed action", res.OK, res.Pending)
	}
	if got := res.Data["payment_method"]; got != "tarjeta" {
		t.Errorf("payment_method = %v, want tarjeta", got)
	}
}

func TestRegisterTransactionMissingAmount(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{"category": "comida"})

	if !res.NeedsInput() {
		t.Fatal("missing amount should produce a pending prompt")
	}
	if !res.OK {
		t.Error("a prompt is not a failure")
	}
	if len(res.Pending.MissingArgs) != 1 || res.Pending.MissingArgs[0] != "amount" {
		t.Errorf("missing args = %v, want [amount]", res.Pending.MissingArgs)
	}
	if got := res.Pending.CollectedArgs["category"]; got != "comida" {
		t.Errorf("collected category = %v, want comida", got)
	}
	if !strings.Contains(res.UserMessage, "Cuánto") {
		t.Errorf("prompt %q should ask for the amount", res.UserMessage)
	}
}

func TestRegisterTransactionMissingCategory(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{"amount": 5000.0})

	if !res.NeedsInput() {
		t.Fatal("missing category should produce a pending prompt")
	}
	if len(res.Pending.MissingArgs) != 1 || res.Pending.MissingArgs[0] != "category" {
		t.Errorf("missing args = %v, want [category]", res.Pending.MissingArgs)
	}
	if !strings.Contains(res.UserMessage, "Comida") {
		t.Errorf("prompt %q should list the user's categories", res.UserMessage)
	}
}

func TestRegisterTransactionUnmatchedCategory(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{"amount": 5000.0, "category": "paracaidismo"})

	if !res.NeedsInput() {
		t.Fatal("unmatched category should re-ask instead of writing")
	}
	if len(res.Pending.MissingArgs) != 1 || res.Pending.MissingArgs[0] != "category" {
		t.Errorf("missing args = %v, want [category]", res.Pending.MissingArgs)
	}
	if got := res.Pending.CollectedArgs["amount"]; got != 5000.0 {
		t.Errorf("collected amount = %v, want 5000 kept across the prompt", got)
	}
}

func TestRegisterTransactionAmbiguousCategory(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{"amount": 30000.0, "category": "cuenta"})

	if !res.NeedsInput() {
		t.Fatal("ambiguous category should ask the user to choose")
	}
	if len(res.Pending.MissingArgs) != 1 || res.Pending.MissingArgs[0] != "choice" {
		t.Errorf("missing args = %v, want [choice]", res.Pending.MissingArgs)
	}
	cands := stringSlice(res.Pending.CollectedArgs["candidates"])
	if len(cands) != 2 {
		t.Fatalf("candidates = %v, want both cuenta matches", cands)
	}
	if !strings.Contains(res.UserMessage, "1.") || !strings.Contains(res.UserMessage, "2.") {
		t.Errorf("prompt %q should number the options", res.UserMessage)
	}
}

func TestRegisterTransactionChoiceResolution(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	// Candidates arrive as []any, the shape pending state has after a
	// round trip through the state store.
	args := map[string]any{
		"amount":     30000.0,
		"category":   "cuenta",
		"candidates": []any{"Cuentas", "Cuenta Corriente"},
		"choice":     2.0,
	}
	res := tool.Execute(userCtx(user), args)

	if !res.OK || res.NeedsInput() {
		t.Fatalf("got ok=%v pending=%v, want a completed action", res.OK, res.Pending)
	}
	if got := res.Data["category"]; got != "Cuenta Corriente" {
		t.Errorf("category = %v, want Cuenta Corriente", got)
	}
}

func TestRegisterTransactionChoiceOutOfRange(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	res := tool.Execute(userCtx(user), map[string]any{
		"amount":     30000.0,
		"candidates": []any{"Cuentas", "Cuenta Corriente"},
		"choice":     7.0,
	})

	if !res.NeedsInput() {
		t.Fatal("out-of-range choice should re-prompt")
	}
	if len(res.Pending.MissingArgs) != 1 || res.Pending.MissingArgs[0] != "choice" {
		t.Errorf("missing args = %v, want [choice]", res.Pending.MissingArgs)
	}
	if cands := stringSlice(res.Pending.CollectedArgs["candidates"]); len(cands) != 2 {
		t.Errorf("candidates = %v, want kept for the retry", cands)
	}
}

func TestRegisterTransactionChoiceByName(t *testing.T) {
	led := newTestLedger(t)
	user := newTestUser(t, led)
	tool := NewRegisterTransactionTool(led)

	// Answering the disambiguation prompt with a name instead of a
	// number works when the name pins down one candidate.
	res := tool.Execute(userCtx(user), map[string]any{
		"amount":     30000.0,
		"category":   "corriente",
		"candidates": []any{"Cuentas", "Cuenta Corriente"},
	})

	if !res.OK || res.NeedsInput() {
		t.Fatalf("got ok=%v pending=%v, want a completed action", res.OK, res.Pending)
	}
	if got := res.Data["category"]; got != "Cuenta Corriente" {
		t.Errorf("category = %v, want Cuenta Corriente", got)
	}
}
