package conversation

import (
	"context"
	"time"

	"github.com/tallyfinance/tally/internal/statestore"
)

// DedupState is the lifecycle position of a message ID.
type DedupState int

const (
	// DedupUnseen means the message has never been marked.
	DedupUnseen DedupState = iota
	// DedupProcessing means a cycle claimed the message and has not
	// finished; a retry arriving now is an echo, not new work.
	DedupProcessing
	// DedupDone means the message completed a full cycle.
	DedupDone
)

func (s DedupState) String() string {
	switch s {
	case DedupProcessing:
		return "processing"
	case DedupDone:
		return "done"
	default:
		return "unseen"
	}
}

var (
	markProcessing = []byte("processing")
	markDone       = []byte("done")
)

// Coordinator serializes message processing: at most one in-flight
// cycle per user, at most one cycle ever per message ID. Both
// mechanisms are leases in the state store, so a crashed process
// frees them by expiry rather than by cleanup code.
type Coordinator struct {
	store statestore.Store
}

func NewCoordinator(store statestore.Store) *Coordinator {
	return &Coordinator{store: store}
}

func lockKey(userID string) string  { return "lock:" + userID }
func dedupKey(messageID string) string { return "dedup:" + messageID }

// AcquireLock tries to take the per-user lease. false means another
// cycle holds it; callers reply busy instead of queueing.
func (c *Coordinator) AcquireLock(ctx context.Context, userID string) (bool, error) {
	return c.store.SetNX(ctx, lockKey(userID), []byte("1"), TTLLock)
}

// ReleaseLock frees the lease. Safe to call when the lease already
// expired or was never held.
func (c *Coordinator) ReleaseLock(ctx context.Context, userID string) error {
	return c.store.Delete(ctx, lockKey(userID))
}

// CheckDedup reports where a message ID is in its lifecycle.
func (c *Coordinator) CheckDedup(ctx context.Context, messageID string) (DedupState, error) {
	raw, ok, err := c.store.Get(ctx, dedupKey(messageID))
	if err != nil {
		return DedupUnseen, err
	}
	if !ok {
		return DedupUnseen, nil
	}
	if string(raw) == string(markDone) {
		return DedupDone, nil
	}
	return DedupProcessing, nil
}

// MarkProcessing claims the message for this cycle. The short TTL
// bounds how long a crash can shadow a legitimate retry.
func (c *Coordinator) MarkProcessing(ctx context.Context, messageID string) error {
	return c.store.SetEX(ctx, dedupKey(messageID), markProcessing, TTLDedupProcessing)
}

// MarkDone promotes the message to its terminal marker. Runs only
// after all commits succeeded.
func (c *Coordinator) MarkDone(ctx context.Context, messageID string) error {
	return c.store.SetEX(ctx, dedupKey(messageID), markDone, TTLDedupDone)
}

// ClearDedup removes the processing marker so the sender's retry can
// run the cycle again. Called on failures between claim and done.
func (c *Coordinator) ClearDedup(ctx context.Context, messageID string) error {
	return c.store.Delete(ctx, dedupKey(messageID))
}

// Heartbeat extends the processing claim mid-cycle. Used when a cold
// decision service pushes a cycle past the normal claim window.
func (c *Coordinator) Heartbeat(ctx context.Context, messageID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLDedupProcessing
	}
	return c.store.SetEX(ctx, dedupKey(messageID), markProcessing, ttl)
}
