// Package scheduler runs the background cron lanes: the hourly state
// janitor and the daily engagement sweep. Expressions are standard
// five-field cron, evaluated in the configured timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/pkg/protocol"
)

// Lane names as they appear on cron events.
const (
	LaneJanitor    = "janitor"
	LaneEngagement = "engagement"
)

// Deps wires a Scheduler. Purger, Ledger, State and Router may be nil;
// a lane whose dependencies are missing is skipped.
type Deps struct {
	Config *config.Config
	Purger statestore.Purger
	Ledger *ledger.Ledger
	State  *conversation.Manager
	Router bus.MessageRouter
	Events bus.EventPublisher
}

// Scheduler ticks once a minute and fires the lanes that are due.
type Scheduler struct {
	cfg    *config.Config
	purger statestore.Purger
	led    *ledger.Ledger
	state  *conversation.Manager
	router bus.MessageRouter
	events bus.EventPublisher

	gron *gronx.Gronx
	loc  *time.Location
	now  func() time.Time
}

func New(d Deps) (*Scheduler, error) {
	sc := d.Config.Scheduler

	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", sc.Timezone, err)
	}

	gron := gronx.New()
	for _, expr := range []string{sc.JanitorCron, sc.EngagementCron} {
		if !gron.IsValid(expr) {
			return nil, fmt.Errorf("invalid cron expression %q", expr)
		}
	}

	return &Scheduler{
		cfg:    d.Config,
		purger: d.Purger,
		led:    d.Ledger,
		state:  d.State,
		router: d.Router,
		events: d.Events,
		gron:   gron,
		loc:    loc,
		now:    time.Now,
	}, nil
}

// Run blocks until ctx is done, firing due lanes once per minute.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started",
		"janitor", s.cfg.Scheduler.JanitorCron,
		"engagement", s.cfg.Scheduler.EngagementCron,
		"timezone", s.loc.String(),
	)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every lane that is due at the current local minute.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().In(s.loc)

	if s.due(s.cfg.Scheduler.JanitorCron, now) {
		s.runJanitor(ctx)
	}
	if s.due(s.cfg.Scheduler.EngagementCron, now) {
		s.runEngagement(ctx)
	}
}

func (s *Scheduler) due(expr string, now time.Time) bool {
	due, err := s.gron.IsDue(expr, now)
	if err != nil {
		slog.Warn("cron evaluation failed", "expr", expr, "error", err)
		return false
	}
	return due
}

// runJanitor drops expired rows from the state store.
func (s *Scheduler) runJanitor(ctx context.Context) {
	if s.purger == nil {
		return
	}
	start := s.now()

	purged, err := s.purger.Purge(ctx)
	if err != nil {
		slog.Error("janitor purge failed", "error", err)
		return
	}

	elapsed := s.now().Sub(start).Milliseconds()
	slog.Info("janitor lane finished", "purged", purged, "elapsed_ms", elapsed)
	s.emit(protocol.EventCron, protocol.CronPayload{
		Lane:      LaneJanitor,
		Purged:    purged,
		ElapsedMs: elapsed,
	})
}

func (s *Scheduler) emit(name string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(bus.Event{Name: name, Payload: payload})
}
