package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("tally doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	checkLedger(cfg)
	checkState(cfg)
	checkDecisionService(cfg)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	checkToken("Token", cfg.Gateway.Token)
	if cfg.Tailscale.Hostname != "" {
		fmt.Printf("    %-12s %s\n", "Tailnet:", cfg.Tailscale.Hostname)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkLedger(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Ledger:")
	backend := "sqlite"
	if cfg.Database.IsPostgres() {
		backend = "postgres"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)

	db, _, dialect, err := openLedger(cfg)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}

	m, err := ledger.NewMigrator(db, dialect)
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	v, dirty, verr := m.Version()
	switch {
	case verr == migrate.ErrNilVersion:
		fmt.Printf("    %-12s none (run: tally migrate up)\n", "Schema:")
	case verr != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", verr)
	case dirty:
		fmt.Printf("    %-12s v%d (DIRTY — run: tally migrate force %d)\n", "Schema:", v, v-1)
	default:
		fmt.Printf("    %-12s v%d\n", "Schema:", v)
	}

	pending, hookErr := ledger.PendingHooks(context.Background(), db)
	if hookErr == nil && len(pending) > 0 {
		fmt.Printf("    %-12s %d pending\n", "Data hooks:", len(pending))
	} else if hookErr == nil {
		fmt.Printf("    %-12s all applied\n", "Data hooks:")
	}
}

func checkState(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  State store:")
	path := cfg.StatePath()
	fmt.Printf("    %-12s %s\n", "Path:", path)
	if path == "memory" {
		fmt.Printf("    %-12s in-memory (no persistence)\n", "Status:")
		return
	}
	s, err := statestore.OpenSQLite(path)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		fmt.Printf("    %-12s PING FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
}

func checkDecisionService(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Decision service:")
	fmt.Printf("    %-12s %s\n", "Base URL:", cfg.AI.BaseURL)

	client := ai.NewClient(cfg.AI.BaseURL,
		ai.WithTimeouts(cfg.AI.WarmTimeout(), cfg.AI.ColdTimeout(), cfg.AI.ColdAfter()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Probe(ctx); err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkToken(name, token string) {
	if token == "" {
		fmt.Printf("    %-12s (not set, feed is open)\n", name+":")
		return
	}
	masked := token
	if len(token) > 8 {
		masked = token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}
