// Package guardrails validates and sanitizes tool arguments proposed
// by the decision service before any handler sees them. The policy is
// deliberately asymmetric: strict on required business fields (amount,
// category), lenient on optional hints where hallucination is likely.
// A malformed optional field is dropped, never rejected, so downstream
// resolution can fall back to its own heuristics.
package guardrails

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tallyfinance/tally/internal/ai"
)

// Predicate checks one present field; a non-nil error rejects the
// whole call with that field's name.
type Predicate func(v any) error

// Sanitizer transforms one present field. keep=false drops the field
// from the sanitized args.
type Sanitizer func(v any) (out any, keep bool)

// Schema is the per-tool contract.
type Schema struct {
	Required   []string
	Validators map[string]Predicate
	Sanitizers map[string]Sanitizer
}

// ValidationError names the tool and the field that failed.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("guardrails: tool %q: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("guardrails: tool %q: field %q: %s", e.Tool, e.Field, e.Reason)
}

// Validator holds the schema table. Register adds schemas at runtime
// alongside the built-in six.
type Validator struct {
	schemas map[string]Schema
}

func NewValidator() *Validator {
	v := &Validator{schemas: make(map[string]Schema)}
	for name, s := range builtinSchemas() {
		v.schemas[name] = s
	}
	return v
}

func (v *Validator) Register(tool string, s Schema) {
	v.schemas[tool] = s
}

// Validate runs the full order: unknown tool, missing required,
// predicates, sanitizers. On success it returns a fresh sanitized
// args map; the input call is never mutated.
func (v *Validator) Validate(call *ai.ToolCall) (map[string]any, error) {
	schema, ok := v.schemas[call.Name]
	if !ok {
		return nil, &ValidationError{Tool: call.Name, Reason: "unknown tool"}
	}

	args := call.Args
	for _, field := range schema.Required {
		if isAbsent(args[field]) {
			return nil, &ValidationError{Tool: call.Name, Field: field, Reason: "required field missing"}
		}
	}

	for field, pred := range schema.Validators {
		val, present := args[field]
		if !present || isAbsent(val) {
			continue
		}
		if err := pred(val); err != nil {
			return nil, &ValidationError{Tool: call.Name, Field: field, Reason: err.Error()}
		}
	}

	sanitized := make(map[string]any, len(args))
	for field, val := range args {
		if isAbsent(val) {
			continue
		}
		if san, ok := schema.Sanitizers[field]; ok {
			out, keep := san(val)
			if keep {
				sanitized[field] = out
			}
			continue
		}
		sanitized[field] = val
	}
	return sanitized, nil
}

// Known reports whether a tool has a registered schema.
func (v *Validator) Known(tool string) bool {
	_, ok := v.schemas[tool]
	return ok
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func builtinSchemas() map[string]Schema {
	return map[string]Schema{
		// register_transaction declares amount and category required in
		// the schema advertised to the decision service, but the
		// validator does not hard-require them: partial calls must reach
		// the handler so it can open a slot-filling prompt. Present
		// fields are still validated strictly.
		"register_transaction": {
			Validators: map[string]Predicate{
				"amount":   validAmount,
				"category": validCategory,
			},
			Sanitizers: map[string]Sanitizer{
				"amount":         sanitizeAmount,
				"category":       sanitizeCategory,
				"posted_at":      sanitizePostedAt,
				"payment_method": sanitizeName,
				"description":    sanitizeDescription,
				"choice":         sanitizeChoice,
			},
		},
		"ask_app_info": {
			Required: []string{"userQuestion"},
			Validators: map[string]Predicate{
				"userQuestion": validNonEmptyString,
			},
			Sanitizers: map[string]Sanitizer{
				"userQuestion":   sanitizeTrim,
				"suggestedTopic": sanitizeTopic,
			},
		},
		"ask_balance":       {},
		"ask_budget_status": {},
		"ask_goal_status":   {},
		"greeting":          {},
	}
}

func validAmount(v any) error {
	n, ok := toNumber(v)
	if !ok {
		return fmt.Errorf("not a number")
	}
	if n <= 0 {
		return fmt.Errorf("must be positive")
	}
	if n > 1e12 {
		return fmt.Errorf("implausibly large")
	}
	return nil
}

func validCategory(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("not a string")
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("empty")
	}
	return nil
}

func validNonEmptyString(v any) error {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("not a non-empty string")
	}
	return nil
}

// sanitizeAmount coerces to a number and truncates to whole pesos.
// CLP has no cents; "1500.999" becomes 1500.
func sanitizeAmount(v any) (any, bool) {
	n, ok := toNumber(v)
	if !ok {
		return nil, false
	}
	return math.Trunc(n), true
}

func sanitizeCategory(v any) (any, bool) {
	s, _ := v.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	return s, s != ""
}

var postedAtLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02-01-2006",
	"02/01/2006",
}

// sanitizePostedAt normalizes to YYYY-MM-DD. A date the service made
// up in an unparseable shape is dropped; the handler then stamps
// today.
func sanitizePostedAt(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range postedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return nil, false
}

var nameRe = regexp.MustCompile(`^[\p{L}0-9 _-]{1,60}$`)

// sanitizeName keeps short plain identifiers and drops anything that
// looks invented, letting lookup fall back to the user's default.
func sanitizeName(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !nameRe.MatchString(s) {
		return nil, false
	}
	return s, true
}

const maxDescription = 200

func sanitizeDescription(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if len(s) > maxDescription {
		s = s[:maxDescription]
	}
	return s, true
}

func sanitizeTrim(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

var knownTopics = map[string]bool{
	"capabilities": true, "how_to": true, "limitations": true,
	"channels": true, "getting_started": true, "about": true,
	"security": true, "pricing": true, "other": true,
}

func sanitizeTopic(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return s, knownTopics[s]
}

func sanitizeChoice(v any) (any, bool) {
	n, ok := toNumber(v)
	if !ok || n != math.Trunc(n) || n <= 0 {
		return nil, false
	}
	return int(n), true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
