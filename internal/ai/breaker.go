package ai

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes the failure gate in front of the decision
// service.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens
	// the breaker.
	FailureThreshold int
	// OpenFor is how long calls are rejected before probing resumes.
	OpenFor time.Duration
	// HalfOpenMax bounds probe calls admitted while half-open; the
	// same count of consecutive successes closes the breaker.
	HalfOpenMax int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenFor:          30 * time.Second,
		HalfOpenMax:      2,
	}
}

// Breaker is a per-dependency circuit breaker. State is process-local
// and never shared across instances.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	admitted  int
	openedAt  time.Time
	now       func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed, transitioning
// OPEN -> HALF_OPEN once the open window has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.state = BreakerHalfOpen
		b.successes = 0
		b.admitted = 1
		return true
	default: // BreakerHalfOpen
		if b.admitted >= b.cfg.HalfOpenMax {
			return false
		}
		b.admitted++
		return true
	}
}

// Success records a completed call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMax {
			b.state = BreakerClosed
			b.failures = 0
			b.admitted = 0
			b.successes = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// Failure records a failed call. Any half-open failure reopens
// immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.admitted = 0
		b.successes = 0
	}
}

// State returns the current position without side effects.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
