package ai

import (
	"testing"
	"time"
)

func newTestBreaker() (*Breaker, *time.Time) {
	b := NewBreaker(DefaultBreakerConfig())
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Failure()
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	failN(b, 4)
	if !b.Allow() {
		t.Fatal("rejected below threshold")
	}
	b.Failure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state after threshold: got %v, want open", got)
	}
	if b.Allow() {
		t.Error("allowed while open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker()

	failN(b, 4)
	b.Success()
	failN(b, 4)
	if got := b.State(); got != BreakerClosed {
		t.Errorf("non-consecutive failures opened breaker: %v", got)
	}
}

func TestBreakerHalfOpenAfterWindow(t *testing.T) {
	b, now := newTestBreaker()

	failN(b, 5)
	*now = now.Add(29 * time.Second)
	if b.Allow() {
		t.Fatal("allowed before open window elapsed")
	}
	*now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatal("rejected after open window elapsed")
	}
	if got := b.State(); got != BreakerHalfOpen {
		t.Errorf("state: got %v, want half_open", got)
	}
}

func TestBreakerHalfOpenBoundsProbes(t *testing.T) {
	b, now := newTestBreaker()

	failN(b, 5)
	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("first probe rejected")
	}
	if !b.Allow() {
		t.Fatal("second probe rejected")
	}
	if b.Allow() {
		t.Error("third probe allowed past HalfOpenMax")
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	b, now := newTestBreaker()

	failN(b, 5)
	*now = now.Add(31 * time.Second)
	b.Allow()
	b.Success()
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("closed after one success: %v", got)
	}
	b.Allow()
	b.Success()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state after successes: got %v, want closed", got)
	}
	if !b.Allow() {
		t.Error("closed breaker rejected a call")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker()

	failN(b, 5)
	*now = now.Add(31 * time.Second)
	b.Allow()
	b.Failure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state after half-open failure: got %v, want open", got)
	}
	if b.Allow() {
		t.Error("allowed immediately after reopening")
	}
	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Error("rejected after second open window")
	}
}
