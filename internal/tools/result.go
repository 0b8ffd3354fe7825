package tools

import (
	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/conversation"
)

// Action error codes reported to the phrasing service.
const (
	CodeUnknownTool    = "UNKNOWN_TOOL"
	CodeMissingContext = "MISSING_CONTEXT"
	CodeStorage        = "STORAGE_ERROR"
	CodeNoCategories   = "NO_CATEGORIES"
	CodeExternal       = "EXTERNAL_ERROR"
)

// Result is the unified return type from tool execution. Completed
// actions cross the wire to Phase B as an ActionResult; a Result with
// Pending set is a slot-filling prompt that ends the turn on the
// backend, with UserMessage sent verbatim.
type Result struct {
	OK          bool           `json:"ok"`
	Action      string         `json:"action"`
	Data        map[string]any `json:"data,omitempty"`
	UserMessage string         `json:"userMessage,omitempty"`
	ErrorCode   string         `json:"errorCode,omitempty"`

	Pending *conversation.PendingSlotState `json:"-"`
	Err     error                          `json:"-"`
}

func OKResult(action string, data map[string]any) *Result {
	return &Result{OK: true, Action: action, Data: data}
}

// PromptResult asks the user for a missing slot. pending carries what
// the handler already collected so the next message can finish the job.
func PromptResult(action, userMessage string, pending *conversation.PendingSlotState) *Result {
	return &Result{OK: true, Action: action, UserMessage: userMessage, Pending: pending}
}

func ErrorResult(action, code, userMessage string) *Result {
	return &Result{Action: action, ErrorCode: code, UserMessage: userMessage}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// NeedsInput reports whether this result is a slot-filling prompt
// rather than a finished action.
func (r *Result) NeedsInput() bool {
	return r.Pending != nil
}

// ActionResult converts to the wire shape Phase B receives.
func (r *Result) ActionResult() ai.ActionResult {
	return ai.ActionResult{
		OK:          r.OK,
		Action:      r.Action,
		Data:        r.Data,
		UserMessage: r.UserMessage,
		ErrorCode:   r.ErrorCode,
	}
}
