package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if err := s.SetEX(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("SetEX: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want value, true", ok, err)
	}
	if string(v) != `{"a":1}` {
		t.Errorf("Get = %q, want %q", v, `{"a":1}`)
	}

	if err := s.SetEX(ctx, "k", []byte("new"), time.Minute); err != nil {
		t.Fatalf("SetEX overwrite: %v", err)
	}
	v, _, _ = s.Get(ctx, "k")
	if string(v) != "new" {
		t.Errorf("overwrite: got %q, want %q", v, "new")
	}
}

func TestSQLiteExpiredInvisible(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	// Negative TTL plants an already-expired row.
	if err := s.SetEX(ctx, "gone", []byte("v"), -time.Second); err != nil {
		t.Fatalf("SetEX: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "gone"); ok {
		t.Error("expired row visible to Get")
	}
}

func TestSQLiteSetNX(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	got, err := s.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if err != nil || !got {
		t.Fatalf("first SetNX = %v, %v; want true, nil", got, err)
	}
	got, err = s.SetNX(ctx, "lock", []byte("2"), time.Minute)
	if err != nil || got {
		t.Fatalf("second SetNX = %v, %v; want false, nil", got, err)
	}

	// Expired rows count as absent.
	if err := s.SetEX(ctx, "stale", []byte("old"), -time.Second); err != nil {
		t.Fatalf("SetEX: %v", err)
	}
	got, err = s.SetNX(ctx, "stale", []byte("fresh"), time.Minute)
	if err != nil || !got {
		t.Fatalf("SetNX over expired = %v, %v; want true, nil", got, err)
	}
	v, ok, _ := s.Get(ctx, "stale")
	if !ok || string(v) != "fresh" {
		t.Errorf("after reclaim: got %q, %v; want %q, true", v, ok, "fresh")
	}
}

func TestSQLitePurge(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	_ = s.SetEX(ctx, "dead1", []byte("x"), -time.Second)
	_ = s.SetEX(ctx, "dead2", []byte("x"), -time.Second)
	_ = s.SetEX(ctx, "live", []byte("x"), time.Hour)

	removed, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 2 {
		t.Errorf("Purge removed %d rows, want 2", removed)
	}
	if _, ok, _ := s.Get(ctx, "live"); !ok {
		t.Error("Purge removed a live row")
	}
}
