package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/pkg/protocol"
)

type fakePurger struct {
	purged int64
	calls  int
}

func (f *fakePurger) Purge(context.Context) (int64, error) {
	f.calls++
	return f.purged, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.Timezone = "UTC"
	return cfg
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig()
	if _, err := New(Deps{Config: cfg}); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.Scheduler.JanitorCron = "not a cron"
	if _, err := New(Deps{Config: cfg}); err == nil {
		t.Error("invalid cron expression should be rejected")
	}

	cfg = testConfig()
	cfg.Scheduler.Timezone = "Mars/Olympus"
	if _, err := New(Deps{Config: cfg}); err == nil {
		t.Error("unknown timezone should be rejected")
	}
}

func TestJanitorLane(t *testing.T) {
	events := bus.New()
	var got []bus.Event
	events.Subscribe("test", func(e bus.Event) { got = append(got, e) })

	purger := &fakePurger{purged: 7}
	s, err := New(Deps{Config: testConfig(), Purger: purger, Events: events})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.runJanitor(context.Background())

	if purger.calls != 1 {
		t.Fatalf("purger calls = %d, want 1", purger.calls)
	}
	if len(got) != 1 || got[0].Name != protocol.EventCron {
		t.Fatalf("expected one cron event, got %+v", got)
	}
	payload := got[0].Payload.(protocol.CronPayload)
	if payload.Lane != LaneJanitor || payload.Purged != 7 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func seedMetrics(t *testing.T, store statestore.Store, userID string, em conversation.EngagementMetrics) {
	t.Helper()
	raw, err := json.Marshal(em)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetEX(context.Background(), "metrics:"+userID, raw, time.Hour); err != nil {
		t.Fatal(err)
	}
}

func TestStreakReminder(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	router := bus.New()

	s, err := New(Deps{
		Config: testConfig(),
		State:  conversation.NewManager(store),
		Router: router,
		Events: bus.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	seedMetrics(t, store, "user-1", conversation.EngagementMetrics{
		ConsecutiveActiveDays: 4,
		LastTransactionAt:     &yesterday,
	})

	if !s.remindStreak(context.Background(), "user-1", "whatsapp", "56912345678") {
		t.Fatal("expected a reminder for a lapsing streak")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := router.ConsumeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound reminder")
	}
	if msg.Channel != "whatsapp" || msg.ChatID != "56912345678" {
		t.Errorf("unexpected destination: %+v", msg)
	}
	if !strings.Contains(msg.Content, "4") {
		t.Errorf("reminder should mention the streak length: %q", msg.Content)
	}

	// The nudge cooldown set by the first reminder blocks a second one.
	if s.remindStreak(context.Background(), "user-1", "whatsapp", "56912345678") {
		t.Error("reminder within nudge cooldown should be suppressed")
	}
}

func TestStreakReminderSkipsActiveToday(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	router := bus.New()

	s, err := New(Deps{
		Config: testConfig(),
		State:  conversation.NewManager(store),
		Router: router,
		Events: bus.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	today := time.Now().UTC()
	seedMetrics(t, store, "user-2", conversation.EngagementMetrics{
		ConsecutiveActiveDays: 6,
		LastTransactionAt:     &today,
	})

	if s.remindStreak(context.Background(), "user-2", "telegram", "42") {
		t.Error("user who already registered today should not be reminded")
	}
}

func TestSameLocalDay(t *testing.T) {
	base := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	if !sameLocalDay(base, base.Add(5*time.Minute)) {
		t.Error("minutes apart on the same day")
	}
	if sameLocalDay(base, base.Add(20*time.Minute)) {
		t.Error("crossing midnight changes the day")
	}
}
