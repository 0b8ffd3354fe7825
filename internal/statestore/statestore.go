// Package statestore provides the low-latency key-value store backing
// conversation state, locks, and dedup markers. Every operation is
// single-key and atomic; there are no multi-key transactions. Values
// expire independently per key.
package statestore

import (
	"context"
	"time"
)

// Store is the contract shared by all backends. Implementations must
// treat expired entries as absent on every operation, including SetNX.
type Store interface {
	// Get returns the value for key, or ok=false if absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// SetEX stores value under key with the given TTL, replacing any
	// previous value unconditionally.
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent (or expired). Returns
	// true when the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Purger is implemented by backends that accumulate expired rows and
// need a periodic sweep (the sqlite backend). The janitor in the
// scheduler calls this; callers must tolerate its absence.
type Purger interface {
	Purge(ctx context.Context) (removed int64, err error)
}
