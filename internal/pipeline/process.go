package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/fallback"
	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/metrics"
	"github.com/tallyfinance/tally/internal/tools"
	"github.com/tallyfinance/tally/internal/tracing"
	"github.com/tallyfinance/tally/pkg/protocol"
)

// Process runs one full message cycle and returns its terminal. The
// caller sends Reply.Text back on the channel unless Reply.Silent.
func (p *Pipeline) Process(ctx context.Context, msg bus.InboundMessage) Reply {
	start := p.now()
	ctx, corrID := p.correlate(ctx, msg)
	t := &turn{
		msg:    msg,
		corrID: corrID,
		log:    slog.With("channel", msg.Channel, "correlation_id", corrID),
	}

	metrics.MessagesTotal.Inc()
	p.emit(protocol.EventMessageIn, protocol.MessagePayload{
		Channel:       msg.Channel,
		CorrelationID: corrID,
	})

	reply := p.run(ctx, t)
	t.dbg.Terminal = reply.Kind

	elapsed := p.now().Sub(start)
	p.span(ctx, tracing.SpanPipeline, "pipeline.process", start, nil, map[string]string{
		"channel":  msg.Channel,
		"terminal": reply.Kind,
	})
	out := protocol.MessagePayload{
		Channel:       msg.Channel,
		CorrelationID: corrID,
		UserID:        t.userID(),
		Terminal:      reply.Kind,
		ElapsedMs:     elapsed.Milliseconds(),
	}
	switch reply.Kind {
	case TerminalDuplicate:
		p.emit(protocol.EventDuplicate, out)
	case TerminalBusy:
		p.emit(protocol.EventBusy, out)
	default:
		p.emit(protocol.EventMessageOut, out)
	}
	if !reply.Silent && reply.Text != "" {
		dbg, _ := json.Marshal(t.dbg)
		p.logMessage(ctx, &ledger.MessageLogEntry{
			UserID:        t.userPtr(),
			Channel:       msg.Channel,
			Direction:     ledger.DirectionOut,
			CorrelationID: corrID,
			Body:          reply.Text,
			Debug:         dbg,
		})
	}
	t.log.Info("message processed", "terminal", reply.Kind, "elapsed_ms", elapsed.Milliseconds())
	return reply
}

// run is the admission half of the cycle: deep links, identity, dedup
// and the per-user lease. Everything behind the lease lives in locked.
func (p *Pipeline) run(ctx context.Context, t *turn) Reply {
	if code, ok := parseLinkCommand(t.msg.Content); ok {
		return p.link(ctx, t, code)
	}

	user, err := p.led.Users.ResolveChannel(ctx, t.msg.Channel, t.msg.SenderID)
	if err != nil {
		t.log.Error("channel resolution failed", "error", err)
		return Reply{Text: replyApology, Kind: TerminalApology}
	}
	t.user = user
	p.logMessage(ctx, &ledger.MessageLogEntry{
		UserID:        t.userPtr(),
		Channel:       t.msg.Channel,
		Direction:     ledger.DirectionIn,
		ExternalID:    t.msg.MessageID,
		CorrelationID: t.corrID,
		Body:          t.msg.Content,
	})
	if user == nil {
		return Reply{Text: replyUnlinked, Kind: TerminalUnlinked}
	}

	if t.msg.MessageID != "" {
		t.dedupID = t.msg.Channel + ":" + t.msg.MessageID
		state, err := p.coord.CheckDedup(ctx, t.dedupID)
		if err != nil {
			t.log.Warn("dedup check failed", "error", err)
		}
		switch state {
		case conversation.DedupDone:
			metrics.DuplicatesSeen.Inc()
			return Reply{Silent: true, Kind: TerminalDuplicate}
		case conversation.DedupProcessing:
			return Reply{Text: replyStillWorking, Kind: TerminalBusy}
		}
		if err := p.coord.MarkProcessing(ctx, t.dedupID); err != nil {
			t.log.Warn("dedup claim failed", "error", err)
		}
	}

	ok, err := p.coord.AcquireLock(ctx, t.userID())
	if err != nil {
		t.log.Warn("lock acquire failed", "error", err)
	}
	if !ok {
		p.clearClaim(ctx, t)
		metrics.BusyRejections.Inc()
		return Reply{Text: replyBusy, Kind: TerminalBusy}
	}
	return p.locked(ctx, t)
}

// locked is the cycle body under the per-user lease. The deferred
// block is the only exit: it releases the lease and, on panic, clears
// the dedup claim so the platform's retry can run the cycle again.
func (p *Pipeline) locked(ctx context.Context, t *turn) (reply Reply) {
	uid := t.userID()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("cycle panic", "panic", r, "stack", string(debug.Stack()))
			p.clearClaim(ctx, t)
			reply = Reply{Text: replyApology, Kind: TerminalApology}
		}
		if err := p.coord.ReleaseLock(context.WithoutCancel(ctx), uid); err != nil {
			t.log.Warn("lock release failed", "error", err)
		}
	}()

	tc, err := p.assemble(ctx, t.user)
	if err != nil {
		t.log.Error("context assembly failed", "error", err)
		p.clearClaim(ctx, t)
		return Reply{Text: replyApology, Kind: TerminalApology}
	}

	style := p.observeStyle(ctx, uid, t.msg.Content)

	areq := &ai.PhaseARequest{
		UserText:            t.msg.Content,
		UserContext:         tc.user,
		Tools:               p.reg.Specs(),
		Pending:             tc.pendingContext(),
		AvailableCategories: tc.categories,
	}

	aStart := p.now()
	ares, err := p.ai.PhaseA(ctx, areq)
	metrics.PhaseALatency.Observe(p.now().Sub(aStart).Seconds())
	p.span(ctx, tracing.SpanDecision, "decision.phase_a", aStart, err, nil)
	if err != nil {
		ares = p.phaseAFallback(t, areq, err)
		if ares == nil {
			return p.phaseATerminal(ctx, t, err)
		}
	}

	switch ares.ResponseType {
	case ai.ResponseDirectReply:
		p.finish(ctx, t)
		return Reply{Text: ares.DirectReply, Kind: TerminalDirect}
	case ai.ResponseClarification:
		p.finish(ctx, t)
		return Reply{Text: ares.Clarification, Kind: TerminalClarify}
	}

	call := ares.ToolCall
	t.dbg.Tool = call.Name
	args, err := p.guard.Validate(call)
	if err != nil {
		t.log.Warn("tool call rejected", "tool", call.Name, "error", err)
		p.finish(ctx, t)
		return Reply{Text: replyNotUnderstood, Kind: TerminalApology}
	}

	// A wake cycle can eat most of the claim window; refresh it so the
	// claim survives tool execution and Phase B.
	if t.dedupID != "" && p.now().Sub(aStart) > conversation.TTLDedupProcessing/2 {
		if err := p.coord.Heartbeat(ctx, t.dedupID, conversation.TTLDedupProcessing); err != nil {
			t.log.Warn("dedup heartbeat failed", "error", err)
		}
	}

	res := p.execute(ctx, t, &ai.ToolCall{Name: call.Name, Args: args})

	if res.NeedsInput() {
		if err := p.state.SavePending(ctx, uid, res.Pending); err != nil {
			t.log.Warn("pending save failed", "error", err)
		}
		p.finish(ctx, t)
		return Reply{Text: res.UserMessage, Kind: TerminalPrompt}
	}
	if res.UserMessage != "" {
		// The handler already said what the user needs to hear; error
		// and business outcomes skip the phrasing pass.
		p.finish(ctx, t)
		return Reply{Text: res.UserMessage, Kind: TerminalTool}
	}

	return p.commit(ctx, t, tc, style, call.Name, res)
}

// phaseAFallback answers the turn locally when the decision service
// cannot. Only breaker-open, endpoint-absent and exhausted-dependency
// failures divert here; cold starts and timeouts stay user-visible.
func (p *Pipeline) phaseAFallback(t *turn, req *ai.PhaseARequest, err error) *ai.PhaseAResponse {
	kind := ai.KindOf(err)
	if kind != ai.KindUnavailable && kind != ai.KindDependency {
		return nil
	}
	reason := "dependency"
	if kind == ai.KindUnavailable {
		reason = "unavailable"
	}
	t.log.Warn("decision service down, answering locally", "reason", reason, "error", err)
	metrics.FallbacksTotal.Inc()
	p.emit(protocol.EventFallback, protocol.FallbackPayload{CorrelationID: t.corrID, Reason: reason})
	t.dbg.Fallback = true
	return p.fb.PhaseA(req)
}

// phaseATerminal maps a phase A failure that the fallback does not
// absorb onto its user-facing terminal.
func (p *Pipeline) phaseATerminal(ctx context.Context, t *turn, err error) Reply {
	switch ai.KindOf(err) {
	case ai.KindColdStart:
		t.log.Warn("decision service still waking", "error", err)
		p.finish(ctx, t)
		return Reply{Text: replyColdStart, Kind: TerminalRetry}
	case ai.KindTimeout:
		t.log.Warn("phase A timed out", "error", err)
		p.finish(ctx, t)
		return Reply{Text: replyTimeout, Kind: TerminalRetry}
	default:
		t.log.Error("phase A failed", "error", err)
		p.finish(ctx, t)
		return Reply{Text: replyApology, Kind: TerminalApology}
	}
}

// execute runs the tool with the turn identity attached and reports
// the action to the ops feed.
func (p *Pipeline) execute(ctx context.Context, t *turn, call *ai.ToolCall) *tools.Result {
	tctx := tools.WithToolUser(ctx, t.user)
	tctx = tools.WithToolMessage(tctx, t.msg.Content)
	tctx = tools.WithToolSource(tctx, t.msg.Channel)

	start := p.now()
	res := p.reg.Execute(tctx, call)
	elapsed := p.now().Sub(start)

	metrics.ToolExecutions.Inc()
	p.span(ctx, tracing.SpanTool, "tool."+call.Name, start, res.Err, map[string]string{"tool": call.Name})
	p.emit(protocol.EventAction, protocol.ActionPayload{
		CorrelationID: t.corrID,
		Tool:          call.Name,
		OK:            res.OK,
		ErrorCode:     res.ErrorCode,
		ElapsedMs:     elapsed.Milliseconds(),
	})
	if res.Err != nil {
		t.log.Error("tool execution failed", "tool", call.Name, "error", res.Err)
	}
	return res
}

// commit runs the strict post-action order: engagement metrics, then
// phrasing, then summary, then cooldowns, then pending clear, then the
// dedup done marker. The domain side effect already happened inside
// the handler; from here the cycle must end with a confirmation even
// if every remaining step fails.
func (p *Pipeline) commit(ctx context.Context, t *turn, tc *turnContext, style *ai.UserStyle, toolName string, res *tools.Result) Reply {
	uid := t.userID()

	em := tc.metrics
	if toolName == toolRegisterTransaction && res.OK {
		updated, err := p.state.RecordTransaction(ctx, uid)
		if err != nil {
			t.log.Warn("metrics update failed", "error", err)
		} else {
			em = updated
		}
	}

	action := res.ActionResult()
	breq := &ai.PhaseBRequest{
		ToolName:       toolName,
		ActionResult:   action,
		UserContext:    tc.user,
		RuntimeContext: p.runtimeContext(tc, em, style, toolName, res),
	}

	var bres *ai.PhaseBResponse
	if !t.dbg.Fallback {
		bStart := p.now()
		var berr error
		bres, berr = p.ai.PhaseB(ctx, breq)
		metrics.PhaseBLatency.Observe(p.now().Sub(bStart).Seconds())
		p.span(ctx, tracing.SpanDecision, "decision.phase_b", bStart, berr, nil)
		if berr != nil {
			t.log.Warn("phase B failed, confirming locally", "error", berr)
			reason := "dependency"
			if ai.IsUnavailable(berr) {
				reason = "unavailable"
			}
			metrics.FallbacksTotal.Inc()
			p.emit(protocol.EventFallback, protocol.FallbackPayload{CorrelationID: t.corrID, Reason: reason})
			t.dbg.Fallback = true
			bres = nil
		}
	}

	final := ""
	if bres != nil {
		final = bres.FinalMessage

		if bres.NewSummary != "" {
			if err := p.state.SaveSummary(ctx, uid, bres.NewSummary, p.summaryTTL(toolName)); err != nil {
				t.log.Warn("summary save failed", "error", err)
			}
		}
		if bres.DidNudge {
			if err := p.state.MarkNudge(ctx, uid, bres.NudgeType); err != nil {
				t.log.Warn("cooldown update failed", "error", err)
			}
			metrics.NudgesTotal.Inc()
			p.emit(protocol.EventNudge, protocol.NudgePayload{
				UserID: uid,
				Type:   bres.NudgeType,
				Source: "phase_b",
			})
		}
	}
	if final == "" {
		// The action is committed; the user always hears back.
		final = fallback.Confirm(toolName, &action)
	}

	if err := p.state.ClearPending(ctx, uid); err != nil {
		t.log.Warn("pending clear failed", "error", err)
	}
	p.finish(ctx, t)

	// Remember how this reply opened so the next one can vary.
	if op := extractOpening(final); op != "" {
		if err := p.state.SaveOpening(ctx, uid, op); err != nil {
			t.log.Debug("opening save failed", "error", err)
		}
	}
	return Reply{Text: final, Kind: TerminalConfirm}
}

// summaryTTL picks how long a fresh summary lives. Turns that
// committed a movement carry facts worth keeping for the full window;
// query turns follow the short end.
func (p *Pipeline) summaryTTL(toolName string) time.Duration {
	pc := p.cfg.PipelineTuning()
	if toolName == toolRegisterTransaction {
		return pc.SummaryMaxTTL()
	}
	return pc.SummaryMinTTL()
}

// finish promotes the dedup claim to done. Runs on every deliberate
// terminal; only panics and infrastructure failures leave the claim
// for clearClaim.
func (p *Pipeline) finish(ctx context.Context, t *turn) {
	if t.dedupID == "" {
		return
	}
	if err := p.coord.MarkDone(context.WithoutCancel(ctx), t.dedupID); err != nil {
		t.log.Warn("dedup done mark failed", "error", err)
	}
}

// clearClaim drops the processing marker so the platform's retry can
// run the cycle again.
func (p *Pipeline) clearClaim(ctx context.Context, t *turn) {
	if t.dedupID == "" {
		return
	}
	if err := p.coord.ClearDedup(context.WithoutCancel(ctx), t.dedupID); err != nil {
		t.log.Warn("dedup clear failed", "error", err)
	}
}
