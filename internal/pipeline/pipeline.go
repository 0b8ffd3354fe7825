// Package pipeline runs the full message cycle: deep-link handling,
// identity resolution, dedup and locking, context assembly, the
// two-phase decision calls, tool execution, and the ordered state
// commit. Every inbound message ends in exactly one terminal: a reply,
// or a deliberate silence for suppressed duplicates.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/fallback"
	"github.com/tallyfinance/tally/internal/guardrails"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/tools"
	"github.com/tallyfinance/tally/internal/tracing"
)

// Terminal kinds, one per way a cycle can end. They ride the ops feed
// and the pipeline span; users only ever see the reply text.
const (
	TerminalLinked    = "linked"
	TerminalLinkFail  = "link_failed"
	TerminalUnlinked  = "unlinked"
	TerminalDuplicate = "duplicate"
	TerminalBusy      = "busy"
	TerminalDirect    = "direct_reply"
	TerminalClarify   = "clarification"
	TerminalPrompt    = "slot_prompt"
	TerminalTool      = "tool_reply"
	TerminalConfirm   = "confirmation"
	TerminalRetry     = "retry"
	TerminalApology   = "apology"
)

// toolRegisterTransaction is the one built-in whose success moves
// engagement metrics and budget spend.
const toolRegisterTransaction = "register_transaction"

// Reply is the outcome of one inbound message. Silent means the cycle
// decided nothing should reach the user.
type Reply struct {
	Text   string
	Kind   string
	Silent bool
}

// Decider is the slice of the decision-service client the cycle uses.
// *ai.Client satisfies it; tests plug in a scripted fake.
type Decider interface {
	PhaseA(ctx context.Context, req *ai.PhaseARequest) (*ai.PhaseAResponse, error)
	PhaseB(ctx context.Context, req *ai.PhaseBRequest) (*ai.PhaseBResponse, error)
	BreakerState() ai.BreakerState
}

// Deps wires a Pipeline. Events and Traces are optional; everything
// else must be set.
type Deps struct {
	Config        *config.Config
	AI            Decider
	Fallback      *fallback.Responder
	Tools         *tools.Registry
	Guard         *guardrails.Validator
	Ledger        *ledger.Ledger
	State         *conversation.Manager
	Coord         *conversation.Coordinator
	Events        bus.EventPublisher
	Traces        *tracing.Collector
	CategorySeeds []string
}

// Pipeline executes message cycles. Safe for concurrent use; per-user
// ordering comes from the coordinator, not from this struct.
type Pipeline struct {
	cfg    *config.Config
	ai     Decider
	fb     *fallback.Responder
	reg    *tools.Registry
	guard  *guardrails.Validator
	led    *ledger.Ledger
	state  *conversation.Manager
	coord  *conversation.Coordinator
	events bus.EventPublisher
	traces *tracing.Collector
	seeds  []string
	links  *linkCache
	now    func() time.Time
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		cfg:    d.Config,
		ai:     d.AI,
		fb:     d.Fallback,
		reg:    d.Tools,
		guard:  d.Guard,
		led:    d.Ledger,
		state:  d.State,
		coord:  d.Coord,
		events: d.Events,
		traces: d.Traces,
		seeds:  d.CategorySeeds,
		links:  newLinkCache(linkCacheSize, linkCacheTTL),
		now:    time.Now,
	}
}

// turn is the mutable state of one cycle.
type turn struct {
	msg     bus.InboundMessage
	corrID  string
	log     *slog.Logger
	user    *ledger.User
	dedupID string
	dbg     turnDebug
}

// turnDebug is the per-cycle debug payload attached to the outbound
// message log row.
type turnDebug struct {
	Terminal string `json:"terminal"`
	Tool     string `json:"tool,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

func (t *turn) userID() string {
	if t.user == nil {
		return ""
	}
	return t.user.ID.String()
}

func (t *turn) userPtr() *uuid.UUID {
	if t.user == nil {
		return nil
	}
	id := t.user.ID
	return &id
}

// correlate derives the cycle's correlation id from the platform
// message id so log lines and spans join across systems.
func (p *Pipeline) correlate(ctx context.Context, msg bus.InboundMessage) (context.Context, string) {
	id := tracing.NewCorrelationID()
	if msg.MessageID != "" {
		id = msg.MessageID + "-" + id[:8]
	}
	return tracing.ContextWithCorrelationID(ctx, id), id
}

// emit publishes an ops event; a nil publisher drops it.
func (p *Pipeline) emit(name string, payload any) {
	if p.events == nil {
		return
	}
	p.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

// span records one timed stage when a collector is attached.
func (p *Pipeline) span(ctx context.Context, kind tracing.SpanKind, name string, start time.Time, err error, attrs map[string]string) {
	if p.traces == nil {
		return
	}
	s := tracing.Span{
		CorrelationID: tracing.CorrelationIDFromContext(ctx),
		Kind:          kind,
		Name:          name,
		Start:         start,
		End:           p.now(),
		Status:        tracing.StatusOK,
		Attrs:         attrs,
	}
	if err != nil {
		s.Status = tracing.StatusError
		s.Error = err.Error()
	}
	p.traces.Emit(s)
}

// logMessage appends to the message log without blocking the cycle. A
// lost row never costs a reply.
func (p *Pipeline) logMessage(ctx context.Context, entry *ledger.MessageLogEntry) {
	if p.led == nil || p.led.Messages == nil {
		return
	}
	entry.ID = ledger.GenNewID()
	entry.CreatedAt = p.now().UTC()
	bg := context.WithoutCancel(ctx)
	go func() {
		lctx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		if err := p.led.Messages.Append(lctx, entry); err != nil {
			slog.Debug("message log append failed", "error", err)
		}
	}()
}
