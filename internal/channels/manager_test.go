package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/bus"
)

// fakeChannel records sends for assertions.
type fakeChannel struct {
	name    string
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	running bool
}

func (f *fakeChannel) Name() string                    { return f.name }
func (f *fakeChannel) Start(context.Context) error     { f.running = true; return nil }
func (f *fakeChannel) Stop(context.Context) error      { f.running = false; return nil }
func (f *fakeChannel) IsRunning() bool                 { return f.running }
func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestManagerDispatchesOutbound(t *testing.T) {
	router := bus.New()
	m := NewManager(router)
	ch := &fakeChannel{name: "whatsapp"}
	m.RegisterChannel("whatsapp", ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(ctx)

	router.PublishOutbound(bus.OutboundMessage{Channel: "whatsapp", ChatID: "1", Content: "listo ✅"})
	router.PublishOutbound(bus.OutboundMessage{Channel: "unknown", ChatID: "1", Content: "dropped"})
	router.PublishOutbound(bus.OutboundMessage{Channel: "whatsapp", ChatID: "1", Content: "ya 👍"})

	deadline := time.After(2 * time.Second)
	for ch.sentCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 dispatched messages, got %d", ch.sentCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManagerStatus(t *testing.T) {
	m := NewManager(bus.New())
	m.RegisterChannel("whatsapp", &fakeChannel{name: "whatsapp", running: true})
	m.RegisterChannel("telegram", &fakeChannel{name: "telegram"})

	status := m.Status()
	if !status["whatsapp"] {
		t.Error("whatsapp should report running")
	}
	if status["telegram"] {
		t.Error("telegram should report stopped")
	}
}
