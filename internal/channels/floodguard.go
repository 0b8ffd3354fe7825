package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedSenders caps the flood table so rotating sender ids
	// cannot exhaust memory.
	maxTrackedSenders = 4096

	// floodWindow is the sliding window for per-sender counting.
	floodWindow = time.Minute
)

type floodEntry struct {
	windowStart time.Time
	count       int
}

// FloodGuard rate-limits inbound messages per sender with a bounded
// key table. Safe for concurrent use.
type FloodGuard struct {
	mu        sync.Mutex
	perWindow int
	entries   map[string]*floodEntry
	now       func() time.Time
}

func NewFloodGuard(perMinute int) *FloodGuard {
	return &FloodGuard{
		perWindow: perMinute,
		entries:   make(map[string]*floodEntry),
		now:       time.Now,
	}
}

// Allow reports whether the sender is within its per-minute budget.
// Stale entries are pruned when the table approaches the cap; if that
// is not enough, arbitrary entries are evicted.
func (g *FloodGuard) Allow(senderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if len(g.entries) >= maxTrackedSenders {
		for k, e := range g.entries {
			if now.Sub(e.windowStart) >= floodWindow {
				delete(g.entries, k)
			}
		}
		for len(g.entries) >= maxTrackedSenders {
			for k := range g.entries {
				delete(g.entries, k)
				break
			}
		}
	}

	e, ok := g.entries[senderID]
	if !ok || now.Sub(e.windowStart) >= floodWindow {
		g.entries[senderID] = &floodEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= g.perWindow
}
