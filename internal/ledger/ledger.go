// Package ledger is the durable domain store: users and their channel
// identities, categories, transactions, budgets, goals, and the message
// log. Conversation state with TTL semantics lives in statestore, not
// here.
package ledger

import (
	"errors"

	"github.com/google/uuid"
)

// Ledger is the top-level container for all domain storage backends.
// Both backends (sqlite, pg) populate every field.
type Ledger struct {
	Users        UserStore
	Categories   CategoryStore
	Transactions TransactionStore
	Budgets      BudgetStore
	Goals        GoalStore
	Messages     MessageLog
}

// Link errors are sentinel values so the pipeline can phrase each
// failure deterministically on retry.
var (
	// ErrCodeInvalid covers unknown, expired and already-used codes.
	ErrCodeInvalid = errors.New("link code invalid or expired")
	// ErrChannelTaken means this channel identity belongs to another user.
	ErrChannelTaken = errors.New("channel identity linked to another account")
)

// GenNewID returns a new UUIDv7 (time-ordered, index-friendly).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
