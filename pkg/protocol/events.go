// Package protocol defines the wire types of the ops WebSocket feed.
package protocol

// WebSocket event names pushed from server to ops clients.
const (
	EventMessageIn  = "message.in"
	EventMessageOut = "message.out"
	EventDuplicate  = "message.duplicate"
	EventBusy       = "message.busy"
	EventAction     = "action"
	EventFallback   = "fallback"
	EventBreaker    = "breaker"
	EventNudge      = "nudge"
	EventLink       = "link"
	EventCron       = "cron"
	EventHealth     = "health"
	EventHeartbeat  = "heartbeat"
	EventShutdown   = "shutdown"
)

// MessagePayload rides the message.* lifecycle events. Message text
// never crosses the ops feed.
type MessagePayload struct {
	Channel       string `json:"channel"`
	CorrelationID string `json:"correlation_id,omitempty"`
	UserID        string `json:"user_id,omitempty"` // internal id; empty for unlinked senders
	Terminal      string `json:"terminal,omitempty"`
	ElapsedMs     int64  `json:"elapsed_ms,omitempty"`
}

// ActionPayload rides the action event after tool execution.
type ActionPayload struct {
	CorrelationID string `json:"correlation_id"`
	Tool          string `json:"tool"`
	OK            bool   `json:"ok"`
	ErrorCode     string `json:"error_code,omitempty"`
	ElapsedMs     int64  `json:"elapsed_ms"`
}

// FallbackPayload marks a turn answered by the local responder.
type FallbackPayload struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"` // "unavailable" or "dependency"
}

// BreakerPayload announces a circuit breaker transition.
type BreakerPayload struct {
	State string `json:"state"` // "closed", "open", "half-open"
}

// NudgePayload records a proactive nudge.
type NudgePayload struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`   // "budget", "goal", "streak"
	Source string `json:"source"` // "phase_b" or "scheduler"
}

// LinkPayload records a successful account link.
type LinkPayload struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

// CronPayload reports one scheduler lane run.
type CronPayload struct {
	Lane      string `json:"lane"`
	Purged    int64  `json:"purged,omitempty"`
	Notified  int    `json:"notified,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// HealthPayload is the periodic health event and the health method
// result.
type HealthPayload struct {
	Status   string          `json:"status"`
	Breaker  string          `json:"breaker"`
	Channels map[string]bool `json:"channels,omitempty"`
	UptimeS  int64           `json:"uptime_s"`
}
