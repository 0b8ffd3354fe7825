package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/bootstrap"
	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/channels"
	"github.com/tallyfinance/tally/internal/channels/discord"
	"github.com/tallyfinance/tally/internal/channels/telegram"
	"github.com/tallyfinance/tally/internal/channels/whatsapp"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/fallback"
	"github.com/tallyfinance/tally/internal/gateway"
	"github.com/tallyfinance/tally/internal/guardrails"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/ledger/pg"
	"github.com/tallyfinance/tally/internal/ledger/sqlite"
	"github.com/tallyfinance/tally/internal/mcp"
	"github.com/tallyfinance/tally/internal/pipeline"
	"github.com/tallyfinance/tally/internal/scheduler"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/internal/tools"
	"github.com/tallyfinance/tally/internal/tracing"
	"github.com/tallyfinance/tally/pkg/protocol"
)

// inboundWorkers is the number of concurrent message cycles. Per-user
// ordering comes from the coordinator lock, not from the worker count.
const inboundWorkers = 4

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the message backend",
		Long:  "Starts the channels, the decision pipeline, the cron lanes and the ops server, and runs until interrupted.",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)
	slog.Info("tally starting", "version", Version, "config", cfgPath)
	slog.Info("configuration", "summary", cfg.Redacted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// State store: sqlite (or memory) wrapped in the failover shim so a
	// broken store degrades the pipeline instead of killing it.
	state, err := openStateStore(cfg)
	if err != nil {
		slog.Error("state store open failed", "error", err)
		os.Exit(1)
	}
	failover := statestore.NewFailover(state)
	defer failover.Close()

	// Ledger: backend picked by DSN shape, schema migrated in place.
	db, led, dialect, err := openLedger(cfg)
	if err != nil {
		slog.Error("ledger open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := ledger.MigrateUp(ctx, db, dialect); err != nil {
		slog.Error("ledger migration failed", "error", err)
		os.Exit(1)
	}
	if n, err := ledger.RunPendingHooks(ctx, db); err != nil {
		slog.Error("data migration hooks failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("data migration hooks applied", "count", n)
	}

	b := bus.New()

	aiClient := ai.NewClient(cfg.AI.BaseURL,
		ai.WithTimeouts(cfg.AI.WarmTimeout(), cfg.AI.ColdTimeout(), cfg.AI.ColdAfter()),
		ai.WithProbeTimeout(cfg.AI.ProbeTimeout()),
		ai.WithBreaker(breakerConfig(cfg)),
	)

	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, led)
	guard := guardrails.NewValidator()

	mcpManager := mcp.NewManager(reg, guard, cfg.MCP)
	if err := mcpManager.Start(ctx); err != nil {
		slog.Warn("mcp startup incomplete", "error", err)
	}
	defer mcpManager.Stop()

	traces := tracing.NewCollector(2048)
	if cfg.Telemetry.Enabled {
		fwd, err := tracing.NewOTLPForwarder(ctx, traces,
			cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol, cfg.Telemetry.ServiceName)
		if err != nil {
			slog.Warn("otlp forwarder disabled", "error", err)
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				fwd.Shutdown(sctx)
			}()
		}
	}

	stateMgr := conversation.NewManager(failover)
	coord := conversation.NewCoordinator(failover)

	pipe := pipeline.New(pipeline.Deps{
		Config:        cfg,
		AI:            aiClient,
		Fallback:      fallback.NewResponder(),
		Tools:         reg,
		Guard:         guard,
		Ledger:        led,
		State:         stateMgr,
		Coord:         coord,
		Events:        b,
		Traces:        traces,
		CategorySeeds: bootstrap.CategorySeeds(),
	})

	chanManager, err := buildChannels(cfg, b)
	if err != nil {
		slog.Error("channel setup failed", "error", err)
		os.Exit(1)
	}
	if err := chanManager.StartAll(ctx); err != nil {
		slog.Warn("some channels failed to start", "error", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		chanManager.StopAll(sctx)
	}()

	for i := 0; i < inboundWorkers; i++ {
		go consumeInbound(ctx, b, pipe)
	}

	sched, err := scheduler.New(scheduler.Deps{
		Config: cfg,
		Purger: purgerOf(state),
		Ledger: led,
		State:  stateMgr,
		Router: b,
		Events: b,
	})
	if err != nil {
		slog.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}
	go sched.Run(ctx)

	go func() {
		if err := config.Watch(ctx, cfgPath, cfg, func(fresh *config.Config) {
			cfg.ApplyReloadable(fresh)
			slog.Info("configuration reloaded", "config", cfgPath)
		}); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}()

	server := gateway.NewServer(cfg, gateway.Deps{
		Events:   b,
		State:    failover,
		Breaker:  aiClient,
		Channels: chanManager,
		MCP:      mcpManager,
		Version:  Version,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		slog.Info("shutting down", "signal", s.String())
		b.Broadcast(bus.Event{Name: protocol.EventShutdown})
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		slog.Error("ops server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("tally stopped")
}

// consumeInbound drains the inbound queue into the pipeline and routes
// non-silent replies back to the channel that carried the message.
func consumeInbound(ctx context.Context, b *bus.Bus, pipe *pipeline.Pipeline) {
	for {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			return
		}
		reply := pipe.Process(ctx, msg)
		if reply.Silent || reply.Text == "" {
			continue
		}
		b.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply.Text,
		})
	}
}

func setupLogging(cfg *config.Config) {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStateStore picks the conversation state backend. "memory" keeps
// everything in process, for tests and throwaway runs.
func openStateStore(cfg *config.Config) (statestore.Store, error) {
	path := cfg.StatePath()
	if path == "memory" {
		return statestore.NewMemory(), nil
	}
	return statestore.OpenSQLite(path)
}

// purgerOf exposes the janitor hook when the backend has one. The
// memory store sweeps itself.
func purgerOf(s statestore.Store) statestore.Purger {
	if p, ok := s.(statestore.Purger); ok {
		return p
	}
	return nil
}

func openLedger(cfg *config.Config) (*sql.DB, *ledger.Ledger, string, error) {
	dsn := cfg.LedgerDSN()
	if cfg.Database.IsPostgres() {
		db, err := pg.OpenDB(dsn)
		if err != nil {
			return nil, nil, "", err
		}
		return db, pg.NewPGStores(db), ledger.DialectPostgres, nil
	}
	db, err := sqlite.OpenDB(dsn)
	if err != nil {
		return nil, nil, "", err
	}
	return db, sqlite.NewSQLiteStores(db), ledger.DialectSQLite, nil
}

func breakerConfig(cfg *config.Config) ai.BreakerConfig {
	bc := ai.DefaultBreakerConfig()
	if cfg.AI.BreakerFailures > 0 {
		bc.FailureThreshold = cfg.AI.BreakerFailures
	}
	if cfg.AI.BreakerOpenSec > 0 {
		bc.OpenFor = time.Duration(cfg.AI.BreakerOpenSec) * time.Second
	}
	return bc
}

// buildChannels registers every enabled channel on a fresh manager.
func buildChannels(cfg *config.Config, b *bus.Bus) (*channels.Manager, error) {
	m := channels.NewManager(b)
	lim := channels.Limits{
		MaxMessageChars: cfg.Gateway.MaxMessageChars,
		FloodRPM:        cfg.Gateway.FloodRPM,
	}

	if cfg.Channels.WhatsApp.Enabled {
		ch, err := whatsapp.New(cfg.Channels.WhatsApp, b, lim)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: %w", err)
		}
		m.RegisterChannel(ch.Name(), ch)
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, b, lim)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		m.RegisterChannel(ch.Name(), ch)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, b, lim)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		m.RegisterChannel(ch.Name(), ch)
	}
	return m, nil
}
