package statestore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyStore fails every operation while broken is true.
type flakyStore struct {
	inner  *Memory
	broken bool
}

var errDown = errors.New("backend down")

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.broken {
		return nil, false, errDown
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.broken {
		return errDown
	}
	return f.inner.SetEX(ctx, key, value, ttl)
}

func (f *flakyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if f.broken {
		return false, errDown
	}
	return f.inner.SetNX(ctx, key, value, ttl)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.broken {
		return errDown
	}
	return f.inner.Delete(ctx, key)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.broken {
		return errDown
	}
	return nil
}

func (f *flakyStore) Close() error { return f.inner.Close() }

func TestFailoverDegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{inner: NewMemory()}
	f := NewFailover(primary)
	defer f.Close()

	// Healthy: writes land on the primary.
	if err := f.SetEX(ctx, "a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("SetEX healthy: %v", err)
	}
	if f.Degraded() {
		t.Fatal("degraded after successful primary op")
	}

	// Outage: ops must keep working via the fallback.
	primary.broken = true
	if err := f.SetEX(ctx, "b", []byte("2"), time.Minute); err != nil {
		t.Fatalf("SetEX during outage: %v", err)
	}
	if !f.Degraded() {
		t.Fatal("not marked degraded during outage")
	}
	if v, ok, _ := f.Get(ctx, "b"); !ok || string(v) != "2" {
		t.Fatalf("Get during outage = %q, %v; want %q, true", v, ok, "2")
	}

	// Recovery: entries written during the outage stay readable.
	primary.broken = false
	if v, ok, _ := f.Get(ctx, "b"); !ok || string(v) != "2" {
		t.Fatalf("Get after recovery = %q, %v; want %q, true", v, ok, "2")
	}
	if f.Degraded() {
		t.Error("still degraded after recovery")
	}
	if v, ok, _ := f.Get(ctx, "a"); !ok || string(v) != "1" {
		t.Errorf("primary entry lost: got %q, %v", v, ok)
	}
}

func TestFailoverDeleteClearsBothSides(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{inner: NewMemory()}
	f := NewFailover(primary)
	defer f.Close()

	primary.broken = true
	_ = f.SetEX(ctx, "k", []byte("v"), time.Minute)
	primary.broken = false
	_ = f.SetEX(ctx, "k", []byte("v"), time.Minute)

	if err := f.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := f.Get(ctx, "k"); ok {
		t.Error("entry survived delete on one side")
	}
}

func TestFailoverSetNXDuringOutage(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{inner: NewMemory()}
	f := NewFailover(primary)
	defer f.Close()

	primary.broken = true
	first, err := f.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	second, err := f.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if !first || second {
		t.Errorf("SetNX pair = %v, %v; want true, false", first, second)
	}
}
