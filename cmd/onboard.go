package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally/internal/bootstrap"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/ledger"
)

// linkCodeTTL is how long the first link code stays valid after
// onboarding. Long enough to open the phone, short enough to not leak.
const linkCodeTTL = 30 * time.Minute

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Long:  "Walks through the initial configuration, writes the config file, prepares the ledger and creates the first account with a channel link code.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		displayName = "Usuario"
		tone        = "amistoso"
		createUser  = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Decision service URL").
				Description("Base URL of the AI decision service").
				Value(&cfg.AI.BaseURL),
			huh.NewInput().
				Title("Ledger database").
				Description("SQLite path, or a postgres:// URL (credentials via TALLY_DATABASE_DSN)").
				Value(&cfg.Database.DSN),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Leave empty to keep Telegram disabled").
				Value(&cfg.Channels.Telegram.Token),
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to keep Discord disabled").
				Value(&cfg.Channels.Discord.Token),
			huh.NewInput().
				Title("WhatsApp bridge URL").
				Description("WebSocket endpoint of the bridge process").
				Value(&cfg.Channels.WhatsApp.BridgeURL),
			huh.NewConfirm().
				Title("Enable WhatsApp?").
				Value(&cfg.Channels.WhatsApp.Enabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Ops feed token").
				Description("Bearer token for /ws and the tail command (empty = open)").
				Value(&cfg.Gateway.Token),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Create the first account now?").
				Value(&createUser),
			huh.NewInput().
				Title("Your name").
				Description("How the assistant addresses you").
				Value(&displayName),
			huh.NewSelect[string]().
				Title("Assistant tone").
				Options(
					huh.NewOption("Amistoso", "amistoso"),
					huh.NewOption("Formal", "formal"),
					huh.NewOption("Relajado", "relajado"),
				).
				Value(&tone),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("onboarding cancelled: %w", err)
	}

	cfg.Channels.Telegram.Enabled = cfg.Channels.Telegram.Token != ""
	cfg.Channels.Discord.Enabled = cfg.Channels.Discord.Token != ""

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("\nConfig written to %s\n", cfgPath)

	if !createUser {
		fmt.Println("Done. Start the backend with: tally serve")
		return nil
	}

	ctx := context.Background()
	db, led, dialect, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()
	if err := ledger.MigrateUp(ctx, db, dialect); err != nil {
		return fmt.Errorf("prepare ledger: %w", err)
	}

	user, err := bootstrap.CreateUser(ctx, led, displayName, tone)
	if err != nil {
		return err
	}
	code, err := led.Users.IssueLinkCode(ctx, user.ID, linkCodeTTL)
	if err != nil {
		return fmt.Errorf("issue link code: %w", err)
	}

	fmt.Printf("\nAccount created for %s.\n\n", displayName)
	fmt.Println("Link a chat channel within the next 30 minutes:")
	fmt.Printf("  WhatsApp/Discord:  send \"link %s\" to the bot\n", code)
	fmt.Printf("  Telegram:          open https://t.me/<your-bot>?start=link-%s\n", code)
	fmt.Println("\nThen start the backend with: tally serve")
	return nil
}
