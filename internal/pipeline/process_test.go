package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/fallback"
	"github.com/tallyfinance/tally/internal/guardrails"
	"github.com/tallyfinance/tally/internal/ledger"
	ledgersqlite "github.com/tallyfinance/tally/internal/ledger/sqlite"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/internal/tools"
)

// scriptedDecider answers both phases from a fixed script and counts
// the calls it receives.
type scriptedDecider struct {
	aRes   *ai.PhaseAResponse
	aErr   error
	bRes   *ai.PhaseBResponse
	bErr   error
	aCalls int
	bCalls int
}

func (d *scriptedDecider) PhaseA(context.Context, *ai.PhaseARequest) (*ai.PhaseAResponse, error) {
	d.aCalls++
	return d.aRes, d.aErr
}

func (d *scriptedDecider) PhaseB(context.Context, *ai.PhaseBRequest) (*ai.PhaseBResponse, error) {
	d.bCalls++
	return d.bRes, d.bErr
}

func (d *scriptedDecider) BreakerState() ai.BreakerState { return ai.BreakerClosed }

type testEnv struct {
	pipe  *Pipeline
	led   *ledger.Ledger
	state *conversation.Manager
	coord *conversation.Coordinator
}

func newTestEnv(t *testing.T, d Decider) *testEnv {
	t.Helper()

	db, err := ledgersqlite.OpenDB(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ledger.MigrateUp(context.Background(), db, ledger.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	led := ledgersqlite.NewSQLiteStores(db)

	store := statestore.NewMemory()
	t.Cleanup(func() { store.Close() })
	state := conversation.NewManager(store)
	coord := conversation.NewCoordinator(store)

	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, led)

	pipe := New(Deps{
		Config:        config.Default(),
		AI:            d,
		Fallback:      fallback.NewResponder(),
		Tools:         reg,
		Guard:         guardrails.NewValidator(),
		Ledger:        led,
		State:         state,
		Coord:         coord,
		Events:        bus.New(),
		CategorySeeds: []string{"Comida", "Transporte", "Otros"},
	})

	return &testEnv{pipe: pipe, led: led, state: state, coord: coord}
}

// newLinkedUser provisions an account already linked to the test
// sender identity.
func (e *testEnv) newLinkedUser(t *testing.T) *ledger.User {
	t.Helper()
	ctx := context.Background()
	u := &ledger.User{
		DisplayName:          "Vale",
		PersonalityTone:      "cercano",
		PersonalityIntensity: 0.5,
		NotificationLevel:    "all",
		DefaultPayment:       "efectivo",
	}
	if err := e.led.Users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := e.led.Categories.Seed(ctx, u.ID, []string{"Comida", "Transporte", "Otros"}); err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	code, err := e.led.Users.IssueLinkCode(ctx, u.ID, time.Minute)
	if err != nil {
		t.Fatalf("issue link code: %v", err)
	}
	if _, err := e.led.Users.LinkChannel(ctx, code, "whatsapp", "56911111111"); err != nil {
		t.Fatalf("link channel: %v", err)
	}
	return u
}

func inbound(content, messageID string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "whatsapp",
		SenderID:   "56911111111",
		ChatID:     "56911111111",
		MessageID:  messageID,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}
}

func directDecider(text string) *scriptedDecider {
	return &scriptedDecider{
		aRes: &ai.PhaseAResponse{ResponseType: ai.ResponseDirectReply, DirectReply: text},
	}
}

func TestUnlinkedSender(t *testing.T) {
	env := newTestEnv(t, directDecider("hola"))

	reply := env.pipe.Process(context.Background(), inbound("hola", "m1"))

	if reply.Kind != TerminalUnlinked {
		t.Fatalf("kind = %q, want %q", reply.Kind, TerminalUnlinked)
	}
	if !strings.Contains(reply.Text, "link") {
		t.Errorf("unlinked reply should explain linking, got %q", reply.Text)
	}
}

func TestLinkCommand(t *testing.T) {
	env := newTestEnv(t, directDecider("hola"))
	ctx := context.Background()

	u := &ledger.User{DisplayName: "Vale", PersonalityTone: "cercano", NotificationLevel: "all"}
	if err := env.led.Users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	code, err := env.led.Users.IssueLinkCode(ctx, u.ID, time.Minute)
	if err != nil {
		t.Fatalf("issue link code: %v", err)
	}

	reply := env.pipe.Process(ctx, inbound("link "+code, "m1"))
	if reply.Kind != TerminalLinked {
		t.Fatalf("kind = %q, want %q: %s", reply.Kind, TerminalLinked, reply.Text)
	}

	// The identity now resolves, so a normal turn reaches the decider.
	reply = env.pipe.Process(ctx, inbound("hola", "m2"))
	if reply.Kind != TerminalDirect {
		t.Errorf("kind after linking = %q, want %q", reply.Kind, TerminalDirect)
	}
}

func TestLinkBadCodeCached(t *testing.T) {
	env := newTestEnv(t, directDecider("hola"))
	ctx := context.Background()

	first := env.pipe.Process(ctx, inbound("link NOPE42", "m1"))
	if first.Kind != TerminalLinkFail {
		t.Fatalf("kind = %q, want %q", first.Kind, TerminalLinkFail)
	}

	// The retried bad code answers from the conflict cache with the
	// same text.
	second := env.pipe.Process(ctx, inbound("link NOPE42", "m2"))
	if second.Kind != TerminalLinkFail || second.Text != first.Text {
		t.Errorf("retry got (%q, %q), want the cached failure", second.Kind, second.Text)
	}
}

func TestDuplicateSuppressed(t *testing.T) {
	env := newTestEnv(t, directDecider("hola"))
	env.newLinkedUser(t)
	ctx := context.Background()

	first := env.pipe.Process(ctx, inbound("hola", "m1"))
	if first.Kind != TerminalDirect {
		t.Fatalf("first kind = %q, want %q", first.Kind, TerminalDirect)
	}

	second := env.pipe.Process(ctx, inbound("hola", "m1"))
	if !second.Silent || second.Kind != TerminalDuplicate {
		t.Errorf("redelivery got (silent=%v, kind=%q), want a silent duplicate", second.Silent, second.Kind)
	}
}

func TestRedeliveryWhileProcessing(t *testing.T) {
	env := newTestEnv(t, directDecider("hola"))
	env.newLinkedUser(t)
	ctx := context.Background()

	if err := env.coord.MarkProcessing(ctx, "whatsapp:m1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	reply := env.pipe.Process(ctx, inbound("hola", "m1"))
	if reply.Kind != TerminalBusy || reply.Silent {
		t.Errorf("got (kind=%q, silent=%v), want a visible busy reply", reply.Kind, reply.Silent)
	}
}

func TestLockedUserGetsBusy(t *testing.T) {
	env := newTestEnv(t, directDecider("hola"))
	u := env.newLinkedUser(t)
	ctx := context.Background()

	ok, err := env.coord.AcquireLock(ctx, u.ID.String())
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}

	reply := env.pipe.Process(ctx, inbound("hola", "m1"))
	if reply.Kind != TerminalBusy {
		t.Fatalf("kind = %q, want %q", reply.Kind, TerminalBusy)
	}

	// The failed turn must clear its claim so the redelivery can run.
	if err := env.coord.ReleaseLock(ctx, u.ID.String()); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	reply = env.pipe.Process(ctx, inbound("hola", "m1"))
	if reply.Kind != TerminalDirect {
		t.Errorf("retry after release = %q, want %q", reply.Kind, TerminalDirect)
	}
}

func TestClarification(t *testing.T) {
	env := newTestEnv(t, &scriptedDecider{
		aRes: &ai.PhaseAResponse{ResponseType: ai.ResponseClarification, Clarification: "¿Cuánto fue?"},
	})
	env.newLinkedUser(t)

	reply := env.pipe.Process(context.Background(), inbound("gasté en comida", "m1"))
	if reply.Kind != TerminalClarify || reply.Text != "¿Cuánto fue?" {
		t.Errorf("got (%q, %q), want the clarification", reply.Kind, reply.Text)
	}
}

func TestFallbackWhenUnavailable(t *testing.T) {
	d := &scriptedDecider{aErr: &ai.Error{Kind: ai.KindUnavailable, Op: "phase_a"}}
	env := newTestEnv(t, d)
	env.newLinkedUser(t)

	reply := env.pipe.Process(context.Background(), inbound("hola", "m1"))

	if reply.Kind != TerminalDirect {
		t.Fatalf("kind = %q, want %q (local responder)", reply.Kind, TerminalDirect)
	}
	if reply.Text == "" {
		t.Error("fallback greeting should carry text")
	}
	if d.bCalls != 0 {
		t.Errorf("phase B called %d times on a fallback turn, want 0", d.bCalls)
	}
}

func TestColdStartStaysVisible(t *testing.T) {
	env := newTestEnv(t, &scriptedDecider{aErr: &ai.Error{Kind: ai.KindColdStart, Op: "phase_a"}})
	env.newLinkedUser(t)

	reply := env.pipe.Process(context.Background(), inbound("hola", "m1"))
	if reply.Kind != TerminalRetry || reply.Silent {
		t.Errorf("got (kind=%q, silent=%v), want a visible retry reply", reply.Kind, reply.Silent)
	}
}

func TestGuardrailRejectsUnknownTool(t *testing.T) {
	env := newTestEnv(t, &scriptedDecider{
		aRes: &ai.PhaseAResponse{
			ResponseType: ai.ResponseToolCall,
			ToolCall:     &ai.ToolCall{Name: "transfer_money", Args: map[string]any{"amount": 1e6}},
		},
	})
	env.newLinkedUser(t)

	reply := env.pipe.Process(context.Background(), inbound("mándale plata al tío", "m1"))
	if reply.Kind != TerminalApology {
		t.Errorf("kind = %q, want %q", reply.Kind, TerminalApology)
	}
}

func TestToolCycleConfirms(t *testing.T) {
	d := &scriptedDecider{
		aRes: &ai.PhaseAResponse{
			ResponseType: ai.ResponseToolCall,
			ToolCall: &ai.ToolCall{
				Name: "register_transaction",
				Args: map[string]any{"amount": 5000.0, "category": "comida"},
			},
		},
		bRes: &ai.PhaseBResponse{FinalMessage: "Listo, anoté $5.000 en Comida 🍜"},
	}
	env := newTestEnv(t, d)
	u := env.newLinkedUser(t)
	ctx := context.Background()

	reply := env.pipe.Process(ctx, inbound("5 lucas en comida", "m1"))

	if reply.Kind != TerminalConfirm {
		t.Fatalf("kind = %q, want %q: %s", reply.Kind, TerminalConfirm, reply.Text)
	}
	if reply.Text != d.bRes.FinalMessage {
		t.Errorf("text = %q, want the phase B phrasing", reply.Text)
	}
	if d.bCalls != 1 {
		t.Errorf("phase B calls = %d, want 1", d.bCalls)
	}

	em, err := env.state.Metrics(ctx, u.ID.String())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if em.RollingWeekCount != 1 {
		t.Errorf("week tx count = %d, want 1 after a committed movement", em.RollingWeekCount)
	}

	// The completed turn is remembered: redelivery stays silent.
	second := env.pipe.Process(ctx, inbound("5 lucas en comida", "m1"))
	if !second.Silent || second.Kind != TerminalDuplicate {
		t.Errorf("redelivery got (silent=%v, kind=%q), want a silent duplicate", second.Silent, second.Kind)
	}
}

func TestPhaseBFailureStillConfirms(t *testing.T) {
	env := newTestEnv(t, &scriptedDecider{
		aRes: &ai.PhaseAResponse{
			ResponseType: ai.ResponseToolCall,
			ToolCall: &ai.ToolCall{
				Name: "register_transaction",
				Args: map[string]any{"amount": 3000.0, "category": "transporte"},
			},
		},
		bErr: &ai.Error{Kind: ai.KindTimeout, Op: "phase_b"},
	})
	env.newLinkedUser(t)

	reply := env.pipe.Process(context.Background(), inbound("3 lucas en micro", "m1"))

	// The movement is committed; the user must hear back even without
	// phase B.
	if reply.Kind != TerminalConfirm || reply.Text == "" {
		t.Errorf("got (kind=%q, text=%q), want a local confirmation", reply.Kind, reply.Text)
	}
}

func TestSlotPromptSavesPending(t *testing.T) {
	env := newTestEnv(t, &scriptedDecider{
		aRes: &ai.PhaseAResponse{
			ResponseType: ai.ResponseToolCall,
			ToolCall: &ai.ToolCall{
				Name: "register_transaction",
				Args: map[string]any{"amount": 5000.0},
			},
		},
	})
	u := env.newLinkedUser(t)
	ctx := context.Background()

	reply := env.pipe.Process(ctx, inbound("gasté 5 lucas", "m1"))
	if reply.Kind != TerminalPrompt {
		t.Fatalf("kind = %q, want %q: %s", reply.Kind, TerminalPrompt, reply.Text)
	}

	pending, ok, err := env.state.Pending(ctx, u.ID.String())
	if err != nil || !ok {
		t.Fatalf("pending after prompt: ok=%v err=%v", ok, err)
	}
	if pending.ToolName != "register_transaction" {
		t.Errorf("pending tool = %q, want register_transaction", pending.ToolName)
	}
}
