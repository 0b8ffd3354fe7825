package fallback

import (
	"testing"

	"github.com/tallyfinance/tally/internal/ai"
)

func reqWith(text string, categories []string) *ai.PhaseARequest {
	return &ai.PhaseARequest{
		UserText:            text,
		UserContext:         ai.MinimalUserContext{UserID: "u1"},
		AvailableCategories: categories,
	}
}

func TestPhaseARouting(t *testing.T) {
	categories := []string{"Comida", "Transporte"}
	r := NewResponder()

	tests := []struct {
		name     string
		text     string
		wantType string
		wantTool string
	}{
		{"greeting", "hola!", ai.ResponseDirectReply, ""},
		{"expense with verb", "gasté 3000 en comida", ai.ResponseToolCall, "register_transaction"},
		{"expense lucas", "5 lucas en sushi", ai.ResponseToolCall, "register_transaction"},
		{"balance", "¿cuánto llevo este mes?", ai.ResponseToolCall, "ask_balance"},
		{"budget", "¿cómo va mi presupuesto?", ai.ResponseToolCall, "ask_budget_status"},
		{"goals", "¿cómo van mis metas?", ai.ResponseToolCall, "ask_goal_status"},
		{"app info", "¿cómo funciona esto?", ai.ResponseToolCall, "ask_app_info"},
		{"bare number is not money", "tengo 2 preguntas", ai.ResponseClarification, ""},
		{"gibberish", "asdfgh qwerty", ai.ResponseClarification, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.PhaseA(reqWith(tt.text, categories))
			if resp.ResponseType != tt.wantType {
				t.Fatalf("type: got %q, want %q", resp.ResponseType, tt.wantType)
			}
			if tt.wantTool != "" && resp.ToolCall.Name != tt.wantTool {
				t.Errorf("tool: got %q, want %q", resp.ToolCall.Name, tt.wantTool)
			}
		})
	}
}

func TestPhaseAExpenseArgs(t *testing.T) {
	r := NewResponder()

	resp := r.PhaseA(reqWith("gasté $3.500 en bencina", []string{"Comida", "Transporte"}))
	if resp.ResponseType != ai.ResponseToolCall {
		t.Fatalf("type: %q", resp.ResponseType)
	}
	args := resp.ToolCall.Args
	if got := args["amount"]; got != 3500.0 {
		t.Errorf("amount: got %v, want 3500", got)
	}
	// "bencina" is a transporte synonym.
	if got := args["category"]; got != "Transporte" {
		t.Errorf("category: got %v, want Transporte", got)
	}
}

func TestPhaseAExpenseLucas(t *testing.T) {
	r := NewResponder()

	resp := r.PhaseA(reqWith("anota 5 lucas en comida", []string{"Comida"}))
	args := resp.ToolCall.Args
	if got := args["amount"]; got != 5000.0 {
		t.Errorf("amount: got %v, want 5000", got)
	}
	if got := args["category"]; got != "Comida" {
		t.Errorf("category: got %v, want Comida", got)
	}
}

func TestPhaseAUnmatchedCategoryPassesRawText(t *testing.T) {
	r := NewResponder()

	resp := r.PhaseA(reqWith("gasté 2000 en paracaidismo", []string{"Comida"}))
	if got := resp.ToolCall.Args["category"]; got != "paracaidismo" {
		t.Errorf("category: got %v, want raw text", got)
	}
}

func TestPendingContinuationFillsCategory(t *testing.T) {
	r := NewResponder()
	req := reqWith("comida", []string{"Comida", "Transporte"})
	req.Pending = &ai.PendingSlotContext{
		Tool:          "register_transaction",
		CollectedArgs: map[string]any{"amount": 10.0},
		MissingArgs:   []string{"category"},
	}

	resp := r.PhaseA(req)
	if resp.ResponseType != ai.ResponseToolCall {
		t.Fatalf("type: %q", resp.ResponseType)
	}
	args := resp.ToolCall.Args
	if args["amount"] != 10.0 || args["category"] != "Comida" {
		t.Errorf("merged args: %v", args)
	}
}

func TestPendingContinuationFillsAmount(t *testing.T) {
	r := NewResponder()
	req := reqWith("fueron como 8 lucas", []string{"Comida"})
	req.Pending = &ai.PendingSlotContext{
		Tool:          "register_transaction",
		CollectedArgs: map[string]any{"category": "Comida"},
		MissingArgs:   []string{"amount"},
	}

	resp := r.PhaseA(req)
	if got := resp.ToolCall.Args["amount"]; got != 8000.0 {
		t.Errorf("amount: got %v, want 8000", got)
	}
}

func TestPendingChoiceSlot(t *testing.T) {
	r := NewResponder()
	req := reqWith("2", nil)
	req.Pending = &ai.PendingSlotContext{
		Tool:          "register_transaction",
		CollectedArgs: map[string]any{"candidates": []any{"a", "b", "c"}},
		MissingArgs:   []string{"choice"},
	}

	resp := r.PhaseA(req)
	if resp.ResponseType != ai.ResponseToolCall {
		t.Fatalf("type: %q", resp.ResponseType)
	}
	if got := resp.ToolCall.Args["choice"]; got != 2 {
		t.Errorf("choice: got %v, want 2", got)
	}
}

func TestPendingNoProgressFallsThrough(t *testing.T) {
	r := NewResponder()
	req := reqWith("¿cuánto llevo este mes?", []string{"Comida"})
	req.Pending = &ai.PendingSlotContext{
		Tool:        "register_transaction",
		MissingArgs: []string{"amount"},
	}

	resp := r.PhaseA(req)
	if resp.ResponseType != ai.ResponseToolCall || resp.ToolCall.Name != "ask_balance" {
		t.Errorf("expected normal routing, got %+v", resp)
	}
}

func TestExtractAmount(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"gaste 5000", 5000, true},
		{"$3.500 en super", 3500, true},
		{"5 lucas", 5000, true},
		{"2,5 lucas", 2500, true},
		{"12.000", 12000, true},
		{"3.5", 3.5, true},
		{"nada de plata", 0, false},
	}
	for _, tt := range tests {
		got, _, ok := extractAmount(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("extractAmount(%q): got (%v, %v), want (%v, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		result *ai.ActionResult
		want   string
	}{
		{
			"transaction",
			"register_transaction",
			&ai.ActionResult{OK: true, Data: map[string]any{"amount": 12500.0, "category": "Comida"}},
			"Listo, anoté $12.500 en Comida.",
		},
		{
			"balance",
			"ask_balance",
			&ai.ActionResult{OK: true, Data: map[string]any{"totalSpent": 40000.0}},
			"Este mes llevas $40.000 gastados.",
		},
		{
			"failed action",
			"register_transaction",
			&ai.ActionResult{OK: false, ErrorCode: "STORAGE"},
			"Uy, algo salió mal con esa acción. Intenta de nuevo en un rato.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Confirm(tt.tool, tt.result); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfirmNeverEmpty(t *testing.T) {
	tools := []string{"register_transaction", "ask_balance", "ask_budget_status", "ask_goal_status", "greeting", "something_new", ""}
	for _, tool := range tools {
		if got := Confirm(tool, &ai.ActionResult{OK: true}); got == "" {
			t.Errorf("empty confirmation for %q", tool)
		}
		if got := Confirm(tool, nil); got == "" {
			t.Errorf("empty confirmation for %q with nil result", tool)
		}
	}
}
