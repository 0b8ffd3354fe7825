// Package fallback is the local deterministic responder used when the
// decision service is unreachable (circuit open, endpoint absent).
// It produces the same response shape as the real service from
// keyword and pattern matching, so the pipeline downstream of Phase A
// does not care which one answered. Quality degrades to heuristics;
// availability does not degrade at all.
package fallback

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/match"
)

type Responder struct{}

func NewResponder() *Responder {
	return &Responder{}
}

var greetingWords = []string{
	"hola", "holi", "wena", "buenas", "buenos dias", "buenas tardes",
	"buenas noches", "hey", "que tal", "como estai",
}

var balanceWords = []string{
	"balance", "cuanto he gastado", "cuanto gaste", "cuanto llevo",
	"mis gastos", "gastos del mes", "resumen",
}

var budgetWords = []string{
	"presupuesto", "me queda", "cuanto puedo gastar", "limite",
}

var goalWords = []string{
	"meta", "metas", "ahorro", "ahorrar", "objetivo",
}

var appInfoWords = []string{
	"como funciona", "como se usa", "que puedes hacer", "para que sirve",
	"ayuda", "que eres",
}

// amountRe captures Chilean money mentions: "$3.500", "5 lucas",
// "12000", "2,5 lucas".
var amountRe = regexp.MustCompile(`\$?\s*(\d+(?:[.,]\d+)?)\s*(lucas?|lukas?)?\b`)

// categoryRe captures "... en <category>" tails.
var categoryRe = regexp.MustCompile(`\ben\s+([a-zA-Záéíóúñü][a-zA-Záéíóúñü ]*)`)

// PhaseA mimics the decision step. It never fails; the worst case is
// a canned clarification.
func (r *Responder) PhaseA(req *ai.PhaseARequest) *ai.PhaseAResponse {
	text := strings.TrimSpace(req.UserText)
	norm := match.Normalize(text)

	if req.Pending != nil {
		if resp := r.continuePending(req, norm); resp != nil {
			return resp
		}
	}

	if isGreeting(norm) {
		return directReply("¡Hola! Soy Gus. Cuéntame un gasto o pregúntame por tu balance.")
	}

	if amount, rest, ok := extractAmount(norm); ok && looksLikeExpense(norm) {
		return r.expenseCall(amount, rest, req.AvailableCategories)
	}

	switch {
	case containsAny(norm, balanceWords):
		return toolCall("ask_balance", nil)
	case containsAny(norm, budgetWords):
		return toolCall("ask_budget_status", nil)
	case containsAny(norm, goalWords):
		return toolCall("ask_goal_status", nil)
	case containsAny(norm, appInfoWords):
		return toolCall("ask_app_info", map[string]any{"userQuestion": text})
	}

	return clarification("No te entendí bien. Puedes decirme por ejemplo: \"gasté 5 lucas en comida\" o preguntarme \"¿cuánto llevo este mes?\".")
}

// continuePending fills missing slots of the previous turn from the
// new message. Returns nil when the message does not advance the
// dialogue, letting the normal routing take over.
func (r *Responder) continuePending(req *ai.PhaseARequest, norm string) *ai.PhaseAResponse {
	pending := req.Pending
	args := make(map[string]any, len(pending.CollectedArgs)+1)
	for k, v := range pending.CollectedArgs {
		args[k] = v
	}

	filled := false
	for _, missing := range pending.MissingArgs {
		switch missing {
		case "choice":
			if n, ok := parseChoice(norm); ok {
				args["choice"] = n
				filled = true
			}
		case "amount":
			if amount, _, ok := extractAmount(norm); ok {
				args["amount"] = amount
				filled = true
			}
		case "category":
			if cat, ok := match.Category(strings.TrimSpace(norm), req.AvailableCategories); ok {
				args["category"] = cat
				filled = true
			} else if cat := extractCategoryPhrase(norm); cat != "" {
				args["category"] = cat
				filled = true
			}
		}
	}
	if !filled {
		return nil
	}
	return toolCall(pending.Tool, args)
}

func (r *Responder) expenseCall(amount float64, rest string, categories []string) *ai.PhaseAResponse {
	args := map[string]any{"amount": amount}
	if raw := extractCategoryPhrase(rest); raw != "" {
		if cat, ok := match.Category(raw, categories); ok {
			args["category"] = cat
		} else {
			args["category"] = raw
		}
	}
	return toolCall("register_transaction", args)
}

func toolCall(name string, args map[string]any) *ai.PhaseAResponse {
	if args == nil {
		args = map[string]any{}
	}
	return &ai.PhaseAResponse{
		Phase:        "A",
		ResponseType: ai.ResponseToolCall,
		ToolCall:     &ai.ToolCall{Name: name, Args: args},
	}
}

func directReply(text string) *ai.PhaseAResponse {
	return &ai.PhaseAResponse{Phase: "A", ResponseType: ai.ResponseDirectReply, DirectReply: text}
}

func clarification(text string) *ai.PhaseAResponse {
	return &ai.PhaseAResponse{Phase: "A", ResponseType: ai.ResponseClarification, Clarification: text}
}

var expenseVerbs = []string{
	"gaste", "pague", "compre", "anota", "anote", "apunta", "sume",
	"me costo", "salio",
}

// looksLikeExpense guards against treating any number as money: the
// message needs an expense verb, an "en <categoría>" tail, or an
// explicit currency marker.
func looksLikeExpense(norm string) bool {
	if containsAny(norm, expenseVerbs) {
		return true
	}
	if strings.Contains(norm, " en ") {
		return true
	}
	return strings.Contains(norm, "$") || strings.Contains(norm, "luca") || strings.Contains(norm, "luka")
}

func isGreeting(norm string) bool {
	if len(strings.Fields(norm)) > 4 {
		return false
	}
	for _, g := range greetingWords {
		if norm == g || strings.HasPrefix(norm, g+" ") || strings.HasPrefix(norm, g+",") || strings.HasPrefix(norm, g+"!") {
			return true
		}
	}
	return false
}

func containsAny(norm string, words []string) bool {
	for _, w := range words {
		if strings.Contains(norm, w) {
			return true
		}
	}
	return false
}

// extractAmount finds the first money mention and returns it in pesos
// plus the text after it (where the category usually is). "lucas"
// multiplies by 1000; a dot followed by exactly three digits is the
// Chilean thousands separator.
func extractAmount(norm string) (float64, string, bool) {
	loc := amountRe.FindStringSubmatchIndex(norm)
	if loc == nil {
		return 0, "", false
	}
	numStr := norm[loc[2]:loc[3]]
	lucas := loc[4] >= 0

	var value float64
	if i := strings.IndexAny(numStr, ".,"); i >= 0 && !lucas && len(numStr)-i-1 == 3 {
		whole, err := strconv.ParseFloat(numStr[:i]+numStr[i+1:], 64)
		if err != nil {
			return 0, "", false
		}
		value = whole
	} else {
		v, err := strconv.ParseFloat(strings.ReplaceAll(numStr, ",", "."), 64)
		if err != nil {
			return 0, "", false
		}
		value = v
	}
	if lucas {
		value *= 1000
	}
	if value <= 0 {
		return 0, "", false
	}
	return value, norm[loc[1]:], true
}

func extractCategoryPhrase(norm string) string {
	m := categoryRe.FindStringSubmatch(norm)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseChoice(norm string) (int, bool) {
	fields := strings.Fields(norm)
	if len(fields) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Confirm phrases a completed action locally when Phase B is not
// available. The pipeline guarantees the user always hears back after
// a committed action; this is that guarantee's last line.
func Confirm(toolName string, result *ai.ActionResult) string {
	if result == nil || !result.OK {
		return "Uy, algo salió mal con esa acción. Intenta de nuevo en un rato."
	}
	data := result.Data

	switch toolName {
	case "register_transaction":
		amount, aok := floatField(data, "amount")
		category, cok := stringField(data, "category")
		if aok && cok {
			return fmt.Sprintf("Listo, anoté %s en %s.", Pesos(amount), category)
		}
		return "Listo, gasto anotado."
	case "ask_balance":
		if total, ok := floatField(data, "totalSpent"); ok {
			return fmt.Sprintf("Este mes llevas %s gastados.", Pesos(total))
		}
		return "Revisé tu balance, no encontré gastos este mes."
	case "ask_budget_status":
		if remaining, ok := floatField(data, "remaining"); ok {
			return fmt.Sprintf("Te quedan %s del presupuesto.", Pesos(remaining))
		}
		return "Revisé tu presupuesto y va en orden."
	case "ask_goal_status":
		return "Tus metas siguen en progreso. ¡Sigue así!"
	case "ask_app_info":
		return "Te puedo ayudar a anotar gastos, ver tu balance, tu presupuesto y tus metas. ¿Qué necesitas?"
	case "greeting":
		return "¡Hola! ¿Qué anotamos hoy?"
	default:
		return "Listo, hecho."
	}
}

// Pesos formats CLP the way Chileans write it: $12.500, no decimals.
func Pesos(v float64) string {
	n := int64(v + 0.5)
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return "$" + s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return "$" + b.String()
}

func floatField(data map[string]any, key string) (float64, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func stringField(data map[string]any, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	s, ok := data[key].(string)
	return s, ok && s != ""
}
