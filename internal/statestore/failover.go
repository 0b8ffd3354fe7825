package statestore

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Failover serves every operation from the primary store and degrades
// to an in-process Memory store when the primary fails. Degraded mode
// trades cross-process lock exclusivity for availability: a gateway
// keeps answering users while the shared backend is down, which is the
// contract the pipeline wants (state here is ephemeral and short-lived).
type Failover struct {
	primary  Store
	fallback *Memory
	degraded atomic.Bool
}

// NewFailover wraps primary with an in-process fallback.
func NewFailover(primary Store) *Failover {
	return &Failover{primary: primary, fallback: NewMemory()}
}

func (f *Failover) noteError(op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		slog.Warn("state store degraded, using in-process fallback", "op", op, "error", err)
	}
}

func (f *Failover) noteSuccess() {
	if f.degraded.CompareAndSwap(true, false) {
		slog.Info("state store recovered")
	}
}

func (f *Failover) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := f.primary.Get(ctx, key)
	if err != nil {
		f.noteError("get", err)
		return f.fallback.Get(ctx, key)
	}
	f.noteSuccess()
	if ok {
		return value, true, nil
	}
	// A miss may be an entry written to the fallback during an outage.
	return f.fallback.Get(ctx, key)
}

func (f *Failover) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.primary.SetEX(ctx, key, value, ttl); err != nil {
		f.noteError("setex", err)
		return f.fallback.SetEX(ctx, key, value, ttl)
	}
	f.noteSuccess()
	return nil
}

func (f *Failover) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := f.primary.SetNX(ctx, key, value, ttl)
	if err != nil {
		f.noteError("setnx", err)
		return f.fallback.SetNX(ctx, key, value, ttl)
	}
	f.noteSuccess()
	return ok, nil
}

func (f *Failover) Delete(ctx context.Context, key string) error {
	// Delete from both so outage-era entries do not resurrect.
	ferr := f.fallback.Delete(ctx, key)
	if err := f.primary.Delete(ctx, key); err != nil {
		f.noteError("delete", err)
		return ferr
	}
	f.noteSuccess()
	return ferr
}

func (f *Failover) Ping(ctx context.Context) error { return f.primary.Ping(ctx) }

// Degraded reports whether the last primary operation failed.
func (f *Failover) Degraded() bool { return f.degraded.Load() }

func (f *Failover) Close() error {
	ferr := f.fallback.Close()
	if err := f.primary.Close(); err != nil {
		return err
	}
	return ferr
}
