package conversation

import (
	"context"
	"testing"

	"github.com/tallyfinance/tally/internal/statestore"
)

func TestCoordinatorLockExclusive(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	c := NewCoordinator(store)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = c.AcquireLock(ctx, "u1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Error("second acquire succeeded while lock held")
	}

	ok, err = c.AcquireLock(ctx, "u2")
	if err != nil || !ok {
		t.Errorf("other user blocked: ok=%v err=%v", ok, err)
	}

	if err := c.ReleaseLock(ctx, "u1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = c.AcquireLock(ctx, "u1")
	if err != nil || !ok {
		t.Errorf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestCoordinatorReleaseIdempotent(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	c := NewCoordinator(store)
	ctx := context.Background()

	if err := c.ReleaseLock(ctx, "u1"); err != nil {
		t.Errorf("release without hold: %v", err)
	}
	if _, err := c.AcquireLock(ctx, "u1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := c.ReleaseLock(ctx, "u1"); err != nil {
		t.Errorf("first release: %v", err)
	}
	if err := c.ReleaseLock(ctx, "u1"); err != nil {
		t.Errorf("second release: %v", err)
	}
}

func TestCoordinatorDedupLifecycle(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	c := NewCoordinator(store)
	ctx := context.Background()

	state, err := c.CheckDedup(ctx, "m1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if state != DedupUnseen {
		t.Fatalf("fresh message: got %v, want unseen", state)
	}

	if err := c.MarkProcessing(ctx, "m1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	state, _ = c.CheckDedup(ctx, "m1")
	if state != DedupProcessing {
		t.Fatalf("after claim: got %v, want processing", state)
	}

	if err := c.MarkDone(ctx, "m1"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	state, _ = c.CheckDedup(ctx, "m1")
	if state != DedupDone {
		t.Fatalf("after done: got %v, want done", state)
	}
}

func TestCoordinatorClearReopensMessage(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	c := NewCoordinator(store)
	ctx := context.Background()

	if err := c.MarkProcessing(ctx, "m1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := c.ClearDedup(ctx, "m1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	state, err := c.CheckDedup(ctx, "m1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if state != DedupUnseen {
		t.Errorf("after clear: got %v, want unseen", state)
	}
}
