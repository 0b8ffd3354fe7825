// Package ai is the client for the external two-phase decision
// service. Phase A turns user text into a decision (tool call,
// clarification, or direct reply); Phase B turns an executed action
// into the final user-facing message. The service scales to zero, so
// the client carries cold-start detection, a wake-up probe, adaptive
// timeouts, and a circuit breaker.
package ai

// Response discriminants for Phase A.
const (
	ResponseToolCall      = "tool_call"
	ResponseClarification = "clarification"
	ResponseDirectReply   = "direct_reply"
)

// Nudge types a Phase B response may carry.
const (
	NudgeBudget = "budget"
	NudgeGoal   = "goal"
	NudgeStreak = "streak"
)

// Error codes the decision service reports in its own error bodies.
const (
	CodeInvalidPhase        = "INVALID_PHASE"
	CodeMissingUserText     = "MISSING_USER_TEXT"
	CodeMissingActionResult = "MISSING_ACTION_RESULT"
	CodeLLMError            = "LLM_ERROR"
	CodeLLMTimeout          = "LLM_TIMEOUT"
)

// Personality is the bot persona snapshot for one user.
type Personality struct {
	Tone      string  `json:"tone"`
	Intensity float64 `json:"intensity"`
	Mood      string  `json:"mood,omitempty"`
}

type UserPrefs struct {
	NotificationLevel string `json:"notification_level"`
	UnifiedBalance    *bool  `json:"unified_balance,omitempty"`
}

// BudgetSnapshot carries the active spending expectation with spend
// accumulated by the backend.
type BudgetSnapshot struct {
	Period string   `json:"period"`
	Amount float64  `json:"amount"`
	Spent  *float64 `json:"spent,omitempty"`
}

// MinimalUserContext is the per-user context both phases receive.
type MinimalUserContext struct {
	UserID       string          `json:"user_id"`
	Personality  *Personality    `json:"personality,omitempty"`
	Prefs        *UserPrefs      `json:"prefs,omitempty"`
	ActiveBudget *BudgetSnapshot `json:"active_budget,omitempty"`
	GoalsSummary []string        `json:"goals_summary"`
}

// ActionResult is the uniform outcome of a tool execution, forwarded
// verbatim to Phase B. UserMessage and ErrorCode keep their historical
// camelCase wire names.
type ActionResult struct {
	OK          bool           `json:"ok"`
	Action      string         `json:"action"`
	Data        map[string]any `json:"data,omitempty"`
	UserMessage string         `json:"userMessage,omitempty"`
	ErrorCode   string         `json:"errorCode,omitempty"`
}

// ToolParam describes one parameter in a tool schema.
type ToolParam struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ToolParams is the JSON-Schema-shaped parameter block of a tool.
type ToolParams struct {
	Type       string               `json:"type"`
	Properties map[string]ToolParam `json:"properties"`
	Required   []string             `json:"required"`
}

// ToolSchema advertises one capability to Phase A.
type ToolSchema struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  ToolParams `json:"parameters"`
}

// PendingSlotContext is the previous turn's unfinished tool
// invocation, forwarded so Phase A can fill remaining slots from the
// new message.
type PendingSlotContext struct {
	Tool          string         `json:"tool"`
	CollectedArgs map[string]any `json:"collected_args"`
	MissingArgs   []string       `json:"missing_args"`
	AskedAt       string         `json:"asked_at,omitempty"`
}

// PhaseARequest asks the service to decide what to do with user text.
type PhaseARequest struct {
	Phase               string              `json:"phase"`
	UserText            string              `json:"user_text"`
	UserContext         MinimalUserContext  `json:"user_context"`
	Tools               []ToolSchema        `json:"tools"`
	Pending             *PendingSlotContext `json:"pending,omitempty"`
	AvailableCategories []string            `json:"available_categories"`
}

// ToolCall is the action Phase A proposes. Args pass through
// guardrails before any handler sees them.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// PhaseAResponse carries exactly one payload, selected by
// ResponseType.
type PhaseAResponse struct {
	Phase         string    `json:"phase"`
	ResponseType  string    `json:"response_type"`
	ToolCall      *ToolCall `json:"tool_call,omitempty"`
	Clarification string    `json:"clarification,omitempty"`
	DirectReply   string    `json:"direct_reply,omitempty"`
}

// UserMetrics summarizes engagement for mood computation.
type UserMetrics struct {
	TxStreakDays  int      `json:"tx_streak_days"`
	WeekTxCount   int      `json:"week_tx_count"`
	BudgetPercent *float64 `json:"budget_percent,omitempty"`
}

// UserStyle is the writing style detected from the user's messages.
type UserStyle struct {
	UsesLucas       bool   `json:"uses_lucas"`
	UsesChilenismos bool   `json:"uses_chilenismos"`
	EmojiLevel      string `json:"emoji_level"`
	IsFormal        bool   `json:"is_formal"`
}

// RuntimeContext is the extended context only Phase B receives.
type RuntimeContext struct {
	Summary          string       `json:"summary,omitempty"`
	Metrics          *UserMetrics `json:"metrics,omitempty"`
	MoodHint         int          `json:"mood_hint"`
	CanNudge         bool         `json:"can_nudge"`
	CanBudgetWarning bool         `json:"can_budget_warning"`
	LastOpening      string       `json:"last_opening,omitempty"`
	UserStyle        *UserStyle   `json:"user_style,omitempty"`
}

// PhaseBRequest asks the service to phrase the outcome of a tool run.
type PhaseBRequest struct {
	Phase          string             `json:"phase"`
	ToolName       string             `json:"tool_name"`
	ActionResult   ActionResult       `json:"action_result"`
	UserContext    MinimalUserContext `json:"user_context"`
	RuntimeContext *RuntimeContext    `json:"runtime_context,omitempty"`
}

// PhaseBResponse is the final message plus memory updates for the
// backend to persist.
type PhaseBResponse struct {
	Phase        string `json:"phase"`
	FinalMessage string `json:"final_message"`
	NewSummary   string `json:"new_summary,omitempty"`
	DidNudge     bool   `json:"did_nudge,omitempty"`
	NudgeType    string `json:"nudge_type,omitempty"`
}
