package statestore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. It serves two roles: the standalone
// backend for tests and `tally chat`, and the degraded-mode fallback
// behind Failover when the shared backend is unreachable.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once

	now func() time.Time // overridable in tests
}

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

const memoryJanitorInterval = 30 * time.Second

// NewMemory creates an in-process store with a background janitor that
// sweeps expired entries. Close stops the janitor.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(memoryJanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.entries {
		if !e.deadline.After(now) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !e.deadline.After(m.now()) {
		return nil, false, nil
	}
	// Copy so callers cannot mutate the stored slice.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: stored, deadline: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.deadline.After(now) {
		return false, nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memoryEntry{value: stored, deadline: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// Len reports the number of live entries. Used by the ops endpoints.
func (m *Memory) Len() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.deadline.After(now) {
			n++
		}
	}
	return n
}
