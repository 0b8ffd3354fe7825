package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/metrics"
	"github.com/tallyfinance/tally/pkg/protocol"
)

// minStreakDays is the smallest streak worth defending with a
// reminder.
const minStreakDays = 2

// runEngagement sends a streak reminder to every linked user whose
// streak lapses at local midnight: last transaction yesterday, none
// yet today. Reminders share the nudge cooldown with Phase-B nudges,
// so a user proactively nudged earlier today is left alone.
func (s *Scheduler) runEngagement(ctx context.Context) {
	if s.led == nil || s.state == nil || s.router == nil {
		return
	}
	start := s.now()

	links, err := s.led.Users.ListLinks(ctx)
	if err != nil {
		slog.Error("engagement sweep failed", "error", err)
		return
	}

	// One reminder per user, through the most recently linked channel.
	latest := make(map[string]int, len(links))
	for i, l := range links {
		latest[l.UserID.String()] = i
	}

	notified := 0
	for uid, i := range latest {
		link := links[i]
		if s.remindStreak(ctx, uid, link.Channel, link.ExternalID) {
			notified++
		}
	}

	elapsed := s.now().Sub(start).Milliseconds()
	slog.Info("engagement lane finished", "users", len(latest), "notified", notified, "elapsed_ms", elapsed)
	s.emit(protocol.EventCron, protocol.CronPayload{
		Lane:      LaneEngagement,
		Notified:  notified,
		ElapsedMs: elapsed,
	})
}

// remindStreak decides and delivers one user's reminder. Reports
// whether a reminder went out.
func (s *Scheduler) remindStreak(ctx context.Context, userID, channel, chatID string) bool {
	em, err := s.state.Metrics(ctx, userID)
	if err != nil {
		slog.Warn("engagement metrics read failed", "user_id", userID, "error", err)
		return false
	}
	if em.ConsecutiveActiveDays < minStreakDays || em.LastTransactionAt == nil {
		return false
	}

	now := s.now().In(s.loc)
	last := em.LastTransactionAt.In(s.loc)
	if !sameLocalDay(last, now.AddDate(0, 0, -1)) {
		// Already registered today, or the streak is gone anyway.
		return false
	}

	cds, err := s.state.Cooldowns(ctx, userID)
	if err != nil {
		slog.Warn("engagement cooldown read failed", "user_id", userID, "error", err)
		return false
	}
	if cds.LastNudge != nil && s.now().Sub(*cds.LastNudge) < s.cfg.Pipeline.NudgeCooldown() {
		return false
	}

	s.router.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: streakReminder(em.ConsecutiveActiveDays),
	})

	if err := s.state.MarkNudge(ctx, userID, "streak"); err != nil {
		slog.Warn("mark nudge failed", "user_id", userID, "error", err)
	}
	metrics.NudgesTotal.Inc()
	s.emit(protocol.EventNudge, protocol.NudgePayload{
		UserID: userID,
		Type:   "streak",
		Source: "scheduler",
	})
	return true
}

func streakReminder(days int) string {
	return fmt.Sprintf(
		"¡Ojo! 🔥 Llevas %d días seguidos anotando tus gastos. Registra algo hoy para no perder la racha.",
		days,
	)
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
