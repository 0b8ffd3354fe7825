package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MessageLogEntry is one inbound or outbound message. UserID is nil
// for senders whose identity never resolved. Debug optionally carries
// per-phase payloads for the ops feed.
type MessageLogEntry struct {
	ID            uuid.UUID       `json:"id"`
	UserID        *uuid.UUID      `json:"user_id,omitempty"`
	Channel       string          `json:"channel"`
	Direction     string          `json:"direction"`
	ExternalID    string          `json:"external_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Body          string          `json:"body"`
	Debug         json.RawMessage `json:"debug,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MessageLog is append-only. Callers treat failures as best-effort; a
// lost log row never blocks a reply.
type MessageLog interface {
	Append(ctx context.Context, entry *MessageLogEntry) error
}
