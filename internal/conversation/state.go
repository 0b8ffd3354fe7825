// Package conversation owns the per-user ephemeral state of the
// pipeline: working summary, pending slot-fill state, nudge cooldowns,
// engagement metrics, and the short-lived context cache. Each piece
// lives under its own key with its own TTL; nothing here survives a
// user going quiet for a month.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tallyfinance/tally/internal/statestore"
)

// TTLs for every state class. Summary TTL is caller-chosen within
// [SummaryMinTTL, SummaryMaxTTL].
const (
	TTLContextCache    = 60 * time.Second
	TTLPending         = 10 * time.Minute
	TTLCooldowns       = 30 * 24 * time.Hour
	TTLMetrics         = 30 * 24 * time.Hour
	TTLOpening         = 24 * time.Hour
	TTLStyle           = 30 * 24 * time.Hour
	TTLLock            = 5 * time.Second
	TTLDedupProcessing = 2 * time.Minute
	TTLDedupDone       = 24 * time.Hour

	SummaryMinTTL = 2 * time.Hour
	SummaryMaxTTL = 24 * time.Hour
)

// PendingSlotState is an in-progress multi-turn tool invocation: what
// the user already provided and which required slots are still open.
// MissingArgs keeps the asking order so clarifications stay stable.
type PendingSlotState struct {
	ToolName      string         `json:"tool_name"`
	CollectedArgs map[string]any `json:"collected_args"`
	MissingArgs   []string       `json:"missing_args"`
	AskedAt       time.Time      `json:"asked_at"`
}

// Cooldowns gate proactive remarks. Only a cycle that actually nudged
// may move these.
type Cooldowns struct {
	LastNudge         *time.Time `json:"last_nudge,omitempty"`
	LastBudgetWarning *time.Time `json:"last_budget_warning,omitempty"`
}

// EngagementMetrics are derived purely from transaction write events.
// Readers must not trust the stored counters blindly; see revalidate.
type EngagementMetrics struct {
	ConsecutiveActiveDays int        `json:"consecutive_active_days"`
	LastTransactionAt     *time.Time `json:"last_transaction_at,omitempty"`
	RollingWeekCount      int        `json:"rolling_week_count"`
	WeekStart             *time.Time `json:"week_start,omitempty"`
}

// StyleState accumulates per-turn writing-style observations. The
// pipeline folds one observation in per inbound message; derivation
// into a wire UserStyle happens at read time.
type StyleState struct {
	Turns       int `json:"turns"`
	LucasTurns  int `json:"lucas_turns"`
	ChileTurns  int `json:"chile_turns"`
	EmojiTurns  int `json:"emoji_turns"`
	HeavyEmoji  int `json:"heavy_emoji_turns"`
	FormalTurns int `json:"formal_turns"`
}

// Manager provides typed access to the state store. All calendar math
// runs in UTC.
type Manager struct {
	store statestore.Store
	now   func() time.Time
}

func NewManager(store statestore.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

func summaryKey(userID string) string { return "summary:" + userID }
func pendingKey(userID string) string { return "pending:" + userID }
func cooldownKey(userID string) string { return "cooldown:" + userID }
func metricsKey(userID string) string { return "metrics:" + userID }
func ctxCacheKey(userID string) string { return "ctx:" + userID }
func openingKey(userID string) string { return "opening:" + userID }
func styleKey(userID string) string   { return "style:" + userID }

// Summary returns the working conversation recap, if any.
func (m *Manager) Summary(ctx context.Context, userID string) (string, bool, error) {
	raw, ok, err := m.store.Get(ctx, summaryKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

// SaveSummary overwrites the recap wholesale. TTL is clamped to the
// allowed window.
func (m *Manager) SaveSummary(ctx context.Context, userID, text string, ttl time.Duration) error {
	if ttl < SummaryMinTTL {
		ttl = SummaryMinTTL
	}
	if ttl > SummaryMaxTTL {
		ttl = SummaryMaxTTL
	}
	return m.store.SetEX(ctx, summaryKey(userID), []byte(text), ttl)
}

// Pending returns the in-flight slot-fill state, if any.
func (m *Manager) Pending(ctx context.Context, userID string) (*PendingSlotState, bool, error) {
	raw, ok, err := m.store.Get(ctx, pendingKey(userID))
	if err != nil || !ok {
		return nil, false, err
	}
	var p PendingSlotState
	if err := json.Unmarshal(raw, &p); err != nil {
		// Corrupt state is dropped, not surfaced; the dialogue restarts.
		_ = m.store.Delete(ctx, pendingKey(userID))
		return nil, false, nil
	}
	return &p, true, nil
}

func (m *Manager) SavePending(ctx context.Context, userID string, p *PendingSlotState) error {
	if p.AskedAt.IsZero() {
		p.AskedAt = m.now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending state: %w", err)
	}
	return m.store.SetEX(ctx, pendingKey(userID), raw, TTLPending)
}

func (m *Manager) ClearPending(ctx context.Context, userID string) error {
	return m.store.Delete(ctx, pendingKey(userID))
}

// Cooldowns returns the nudge gate timestamps; absent state is an
// open gate.
func (m *Manager) Cooldowns(ctx context.Context, userID string) (Cooldowns, error) {
	var c Cooldowns
	raw, ok, err := m.store.Get(ctx, cooldownKey(userID))
	if err != nil || !ok {
		return c, err
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cooldowns{}, nil
	}
	return c, nil
}

// MarkNudge records that a nudge of the given type reached the user.
func (m *Manager) MarkNudge(ctx context.Context, userID, nudgeType string) error {
	c, err := m.Cooldowns(ctx, userID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	if nudgeType == "budget" {
		c.LastBudgetWarning = &now
	}
	c.LastNudge = &now
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cooldowns: %w", err)
	}
	return m.store.SetEX(ctx, cooldownKey(userID), raw, TTLCooldowns)
}

// Metrics loads engagement metrics, revalidated against now: a streak
// whose last transaction is older than yesterday reads as zero, and a
// rolling-week window that has lapsed reads as empty. The stored value
// is left untouched; only writes persist.
func (m *Manager) Metrics(ctx context.Context, userID string) (EngagementMetrics, error) {
	var em EngagementMetrics
	raw, ok, err := m.store.Get(ctx, metricsKey(userID))
	if err != nil || !ok {
		return em, err
	}
	if err := json.Unmarshal(raw, &em); err != nil {
		return EngagementMetrics{}, nil
	}
	return revalidate(em, m.now().UTC()), nil
}

// RecordTransaction updates metrics for one successful domain action
// and persists them. Returns the post-update view.
func (m *Manager) RecordTransaction(ctx context.Context, userID string) (EngagementMetrics, error) {
	em, err := m.Metrics(ctx, userID)
	if err != nil {
		return em, err
	}
	now := m.now().UTC()

	switch {
	case em.LastTransactionAt == nil:
		em.ConsecutiveActiveDays = 1
	case sameDay(*em.LastTransactionAt, now):
		if em.ConsecutiveActiveDays == 0 {
			em.ConsecutiveActiveDays = 1
		}
	case sameDay(em.LastTransactionAt.AddDate(0, 0, 1), now):
		em.ConsecutiveActiveDays++
	default:
		em.ConsecutiveActiveDays = 1
	}

	if em.WeekStart == nil || now.Sub(*em.WeekStart) >= 7*24*time.Hour {
		ws := startOfDay(now)
		em.WeekStart = &ws
		em.RollingWeekCount = 1
	} else {
		em.RollingWeekCount++
	}
	em.LastTransactionAt = &now

	raw, err := json.Marshal(em)
	if err != nil {
		return em, fmt.Errorf("marshal metrics: %w", err)
	}
	if err := m.store.SetEX(ctx, metricsKey(userID), raw, TTLMetrics); err != nil {
		return em, err
	}
	return em, nil
}

// revalidate recomputes validity of stale counters at read time.
func revalidate(em EngagementMetrics, now time.Time) EngagementMetrics {
	if em.LastTransactionAt != nil {
		last := *em.LastTransactionAt
		if !sameDay(last, now) && !sameDay(last.AddDate(0, 0, 1), now) {
			em.ConsecutiveActiveDays = 0
		}
	}
	if em.WeekStart == nil || now.Sub(*em.WeekStart) >= 7*24*time.Hour {
		em.RollingWeekCount = 0
		em.WeekStart = nil
	}
	return em
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// CachedContext returns the raw cached user-context JSON, if fresh.
func (m *Manager) CachedContext(ctx context.Context, userID string) ([]byte, bool, error) {
	return m.store.Get(ctx, ctxCacheKey(userID))
}

func (m *Manager) SaveCachedContext(ctx context.Context, userID string, raw []byte) error {
	return m.store.SetEX(ctx, ctxCacheKey(userID), raw, TTLContextCache)
}

// Style returns the accumulated writing-style observations.
func (m *Manager) Style(ctx context.Context, userID string) (StyleState, error) {
	var s StyleState
	raw, ok, err := m.store.Get(ctx, styleKey(userID))
	if err != nil || !ok {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return StyleState{}, nil
	}
	return s, nil
}

func (m *Manager) SaveStyle(ctx context.Context, userID string, s StyleState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal style state: %w", err)
	}
	return m.store.SetEX(ctx, styleKey(userID), raw, TTLStyle)
}

// LastOpening returns the opening phrase of the previous reply so the
// decision service can vary its phrasing.
func (m *Manager) LastOpening(ctx context.Context, userID string) (string, bool, error) {
	raw, ok, err := m.store.Get(ctx, openingKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

func (m *Manager) SaveOpening(ctx context.Context, userID, opening string) error {
	if opening == "" {
		return nil
	}
	return m.store.SetEX(ctx, openingKey(userID), []byte(opening), TTLOpening)
}
