package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/statestore"
)

func newTestManager(t *testing.T, start time.Time) (*Manager, *time.Time) {
	t.Helper()
	store := statestore.NewMemory()
	t.Cleanup(func() { store.Close() })
	now := start
	m := NewManager(store)
	m.now = func() time.Time { return now }
	return m, &now
}

func day(n int) time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestMetricsStreak(t *testing.T) {
	tests := []struct {
		name       string
		txDays     []int
		wantStreak int
	}{
		{"single day", []int{0}, 1},
		{"same day twice", []int{0, 0}, 1},
		{"consecutive days", []int{0, 1, 2}, 3},
		{"gap resets", []int{0, 1, 4}, 1},
		{"resume after gap", []int{0, 3, 4, 5}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, now := newTestManager(t, day(0))
			ctx := context.Background()
			var em EngagementMetrics
			var err error
			for _, d := range tt.txDays {
				*now = day(d)
				em, err = m.RecordTransaction(ctx, "u1")
				if err != nil {
					t.Fatalf("record: %v", err)
				}
			}
			if em.ConsecutiveActiveDays != tt.wantStreak {
				t.Errorf("streak: got %d, want %d", em.ConsecutiveActiveDays, tt.wantStreak)
			}
		})
	}
}

func TestMetricsStreakRevalidatedOnRead(t *testing.T) {
	m, now := newTestManager(t, day(0))
	ctx := context.Background()

	for d := 0; d < 3; d++ {
		*now = day(d)
		if _, err := m.RecordTransaction(ctx, "u1"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	// Streak is still alive the next day: the user can extend it.
	*now = day(3)
	em, err := m.Metrics(ctx, "u1")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if em.ConsecutiveActiveDays != 3 {
		t.Errorf("next-day read: got %d, want 3", em.ConsecutiveActiveDays)
	}

	// Two silent days later the streak is gone even though the stored
	// counter still says 3.
	*now = day(5)
	em, err = m.Metrics(ctx, "u1")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if em.ConsecutiveActiveDays != 0 {
		t.Errorf("stale read: got %d, want 0", em.ConsecutiveActiveDays)
	}
}

func TestMetricsWeekWindow(t *testing.T) {
	m, now := newTestManager(t, day(0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.RecordTransaction(ctx, "u1"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	em, _ := m.Metrics(ctx, "u1")
	if em.RollingWeekCount != 3 {
		t.Fatalf("week count: got %d, want 3", em.RollingWeekCount)
	}

	// Window lapses: reads show zero, the next write starts a new one.
	*now = day(8)
	em, _ = m.Metrics(ctx, "u1")
	if em.RollingWeekCount != 0 {
		t.Errorf("lapsed read: got %d, want 0", em.RollingWeekCount)
	}
	em, err := m.RecordTransaction(ctx, "u1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if em.RollingWeekCount != 1 {
		t.Errorf("new window: got %d, want 1", em.RollingWeekCount)
	}
}

func TestPendingRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, day(0))
	ctx := context.Background()

	if _, ok, err := m.Pending(ctx, "u1"); err != nil || ok {
		t.Fatalf("empty pending: ok=%v err=%v", ok, err)
	}

	in := &PendingSlotState{
		ToolName:      "register_transaction",
		CollectedArgs: map[string]any{"amount": 1500.0},
		MissingArgs:   []string{"category"},
	}
	if err := m.SavePending(ctx, "u1", in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, ok, err := m.Pending(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if out.ToolName != "register_transaction" {
		t.Errorf("tool: got %q", out.ToolName)
	}
	if len(out.MissingArgs) != 1 || out.MissingArgs[0] != "category" {
		t.Errorf("missing args: got %v", out.MissingArgs)
	}
	if out.AskedAt.IsZero() {
		t.Error("AskedAt not stamped on save")
	}

	if err := m.ClearPending(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := m.Pending(ctx, "u1"); ok {
		t.Error("pending survived clear")
	}
}

func TestPendingCorruptStateDropped(t *testing.T) {
	store := statestore.NewMemory()
	defer store.Close()
	m := NewManager(store)
	ctx := context.Background()

	if err := store.SetEX(ctx, "pending:u1", []byte("{not json"), time.Minute); err != nil {
		t.Fatalf("plant: %v", err)
	}
	if _, ok, err := m.Pending(ctx, "u1"); err != nil || ok {
		t.Fatalf("corrupt pending: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.Get(ctx, "pending:u1"); ok {
		t.Error("corrupt entry not removed")
	}
}

func TestCooldownsMarkNudge(t *testing.T) {
	m, now := newTestManager(t, day(0))
	ctx := context.Background()

	c, err := m.Cooldowns(ctx, "u1")
	if err != nil {
		t.Fatalf("empty cooldowns: %v", err)
	}
	if c.LastNudge != nil || c.LastBudgetWarning != nil {
		t.Fatalf("fresh user has cooldowns: %+v", c)
	}

	if err := m.MarkNudge(ctx, "u1", "streak"); err != nil {
		t.Fatalf("mark streak: %v", err)
	}
	c, _ = m.Cooldowns(ctx, "u1")
	if c.LastNudge == nil || !c.LastNudge.Equal(day(0)) {
		t.Errorf("LastNudge: got %v", c.LastNudge)
	}
	if c.LastBudgetWarning != nil {
		t.Error("streak nudge moved the budget gate")
	}

	*now = day(1)
	if err := m.MarkNudge(ctx, "u1", "budget"); err != nil {
		t.Fatalf("mark budget: %v", err)
	}
	c, _ = m.Cooldowns(ctx, "u1")
	if c.LastBudgetWarning == nil || !c.LastBudgetWarning.Equal(day(1)) {
		t.Errorf("LastBudgetWarning: got %v", c.LastBudgetWarning)
	}
	if c.LastNudge == nil || !c.LastNudge.Equal(day(1)) {
		t.Errorf("budget nudge should move both gates, LastNudge: got %v", c.LastNudge)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, day(0))
	ctx := context.Background()

	if _, ok, _ := m.Summary(ctx, "u1"); ok {
		t.Fatal("summary present for fresh user")
	}
	if err := m.SaveSummary(ctx, "u1", "registra gastos a diario", 6*time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := m.Summary(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got != "registra gastos a diario" {
		t.Errorf("summary: got %q", got)
	}
}

func TestOpeningRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, day(0))
	ctx := context.Background()

	if err := m.SaveOpening(ctx, "u1", "listo"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := m.LastOpening(ctx, "u1")
	if err != nil || !ok || got != "listo" {
		t.Errorf("opening: got %q ok=%v err=%v", got, ok, err)
	}

	// Empty openings are not persisted.
	if err := m.SaveOpening(ctx, "u2", ""); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if _, ok, _ := m.LastOpening(ctx, "u2"); ok {
		t.Error("empty opening was stored")
	}
}
