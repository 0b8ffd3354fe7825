package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/bootstrap"
	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/fallback"
	"github.com/tallyfinance/tally/internal/guardrails"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/ledger/sqlite"
	"github.com/tallyfinance/tally/internal/pipeline"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/internal/tools"
)

// chatChannel is the synthetic channel name the REPL links against.
const chatChannel = "local"

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant locally, no services required",
		Long:  "Runs the full message cycle against a throwaway sandbox ledger, answering with the local responder instead of the decision service. Useful for trying the assistant before wiring any channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
}

// localDecider answers every turn with the rule-based responder, the
// same one the pipeline falls back to when the decision service is
// down. Phase B stays empty so confirmations come from the canned set.
type localDecider struct {
	fb *fallback.Responder
}

func (d *localDecider) PhaseA(_ context.Context, req *ai.PhaseARequest) (*ai.PhaseAResponse, error) {
	return d.fb.PhaseA(req), nil
}

func (d *localDecider) PhaseB(context.Context, *ai.PhaseBRequest) (*ai.PhaseBResponse, error) {
	return &ai.PhaseBResponse{}, nil
}

func (d *localDecider) BreakerState() ai.BreakerState { return ai.BreakerClosed }

func runChat() error {
	cfg := config.Default()

	dir, err := os.MkdirTemp("", "tally_chat_*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.OpenDB(filepath.Join(dir, "sandbox.db"))
	if err != nil {
		return fmt.Errorf("open sandbox ledger: %w", err)
	}
	defer db.Close()
	led := sqlite.NewSQLiteStores(db)
	if err := ledger.MigrateUp(ctx, db, ledger.DialectSQLite); err != nil {
		return fmt.Errorf("prepare sandbox ledger: %w", err)
	}

	user, err := bootstrap.CreateUser(ctx, led, "Tú", "amistoso")
	if err != nil {
		return err
	}
	code, err := led.Users.IssueLinkCode(ctx, user.ID, time.Minute)
	if err != nil {
		return err
	}
	if _, err := led.Users.LinkChannel(ctx, code, chatChannel, "repl"); err != nil {
		return fmt.Errorf("link sandbox channel: %w", err)
	}

	state := statestore.NewMemory()
	defer state.Close()

	fb := fallback.NewResponder()
	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, led)

	pipe := pipeline.New(pipeline.Deps{
		Config:        cfg,
		AI:            &localDecider{fb: fb},
		Fallback:      fb,
		Tools:         reg,
		Guard:         guardrails.NewValidator(),
		Ledger:        led,
		State:         conversation.NewManager(state),
		Coord:         conversation.NewCoordinator(state),
		CategorySeeds: bootstrap.CategorySeeds(),
	})

	fmt.Println("Sandbox listo. Anota un gasto (\"5 lucas en almuerzo\") o pregunta por tus gastos. Ctrl-D para salir.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(chatPrompt("tú"))
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/salir" || line == "/exit" {
			break
		}

		reply := pipe.Process(ctx, bus.InboundMessage{
			Channel:    chatChannel,
			SenderID:   "repl",
			ChatID:     "repl",
			Content:    line,
			ReceivedAt: time.Now().UTC(),
		})
		if reply.Silent || reply.Text == "" {
			continue
		}
		printTranscript("tally", reply.Text)
	}

	fmt.Println("\n¡Chao!")
	return scanner.Err()
}

// speakerColumn is the transcript label width, measured in terminal
// cells so accented names line up with ASCII ones.
const speakerColumn = 8

func chatPrompt(speaker string) string {
	pad := speakerColumn - runewidth.StringWidth(speaker)
	if pad < 0 {
		pad = 0
	}
	return speaker + strings.Repeat(" ", pad) + "> "
}

// printTranscript prints a reply with continuation lines indented to
// the message column.
func printTranscript(speaker, text string) {
	indent := strings.Repeat(" ", runewidth.StringWidth(chatPrompt(speaker)))
	for i, line := range strings.Split(text, "\n") {
		if i == 0 {
			fmt.Println(chatPrompt(speaker) + line)
			continue
		}
		fmt.Println(indent + line)
	}
}
