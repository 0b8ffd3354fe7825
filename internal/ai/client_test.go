package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/tracing"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithTimeouts(2*time.Second, 2*time.Second, time.Hour)}, opts...)
	return NewClient(srv.URL, opts...)
}

func phaseAReq() *PhaseARequest {
	return &PhaseARequest{
		UserText:    "gasté 5 lucas en comida",
		UserContext: MinimalUserContext{UserID: "u1"},
		Tools: []ToolSchema{{
			Name:        "register_transaction",
			Description: "registra un gasto",
			Parameters: ToolParams{
				Type: "object",
				Properties: map[string]ToolParam{
					"amount":   {Type: "number", Description: "monto"},
					"category": {Type: "string", Description: "categoría"},
				},
				Required: []string{"amount", "category"},
			},
		}},
		AvailableCategories: []string{"comida", "transporte"},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestPhaseARoundTrip(t *testing.T) {
	var gotHeader atomic.Value
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != orchestratePath {
			t.Errorf("path: got %q", r.URL.Path)
		}
		gotHeader.Store(r.Header.Get("X-Correlation-Id"))
		var req PhaseARequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Phase != "A" {
			t.Errorf("phase: got %q, want A", req.Phase)
		}
		if req.UserText == "" {
			t.Error("user_text missing")
		}
		writeJSON(w, PhaseAResponse{
			Phase:        "A",
			ResponseType: ResponseToolCall,
			ToolCall: &ToolCall{
				Name: "register_transaction",
				Args: map[string]any{"amount": 5000.0, "category": "comida"},
			},
		})
	}))

	ctx := tracing.ContextWithCorrelationID(context.Background(), "corr-1")
	resp, err := c.PhaseA(ctx, phaseAReq())
	if err != nil {
		t.Fatalf("PhaseA: %v", err)
	}
	if resp.ResponseType != ResponseToolCall || resp.ToolCall.Name != "register_transaction" {
		t.Errorf("response: %+v", resp)
	}
	if gotHeader.Load() != "corr-1" {
		t.Errorf("correlation header: got %v", gotHeader.Load())
	}
	if c.likelyCold() {
		t.Error("still likely cold after a success")
	}
}

func TestPhaseAInvalidResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown discriminant", `{"phase":"A","response_type":"shrug"}`},
		{"tool_call without payload", `{"phase":"A","response_type":"tool_call"}`},
		{"tool_call without name", `{"phase":"A","response_type":"tool_call","tool_call":{"args":{}}}`},
		{"empty clarification", `{"phase":"A","response_type":"clarification"}`},
		{"empty direct_reply", `{"phase":"A","response_type":"direct_reply"}`},
		{"not json", `<html>bad gateway page</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.PhaseA(context.Background(), phaseAReq())
			if err == nil {
				t.Fatal("invalid response accepted")
			}
			if got := KindOf(err); got != KindInvalidResponse {
				t.Errorf("kind: got %v, want invalid_response", got)
			}
		})
	}
}

// A 502 while presumed cold triggers the wake probe; once the probe
// answers, the original call is retried and its real answer returned.
func TestColdStartWakeAndRetry(t *testing.T) {
	var orchestrateCalls, healthCalls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case healthPath:
			healthCalls.Add(1)
			w.WriteHeader(http.StatusOK)
		case orchestratePath:
			if orchestrateCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			writeJSON(w, PhaseAResponse{Phase: "A", ResponseType: ResponseDirectReply, DirectReply: "hola!"})
		}
	}))

	resp, err := c.PhaseA(context.Background(), phaseAReq())
	if err != nil {
		t.Fatalf("PhaseA: %v", err)
	}
	if resp.DirectReply != "hola!" {
		t.Errorf("reply: got %q", resp.DirectReply)
	}
	if got := orchestrateCalls.Load(); got != 2 {
		t.Errorf("orchestrate calls: got %d, want 2", got)
	}
	if got := healthCalls.Load(); got != 1 {
		t.Errorf("health calls: got %d, want 1", got)
	}
}

func TestColdStartProbeFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.PhaseA(context.Background(), phaseAReq())
	if err == nil {
		t.Fatal("expected cold start error")
	}
	if got := KindOf(err); got != KindColdStart {
		t.Errorf("kind: got %v, want cold_start", got)
	}
}

func TestColdStartRetryStillCold(t *testing.T) {
	var orchestrateCalls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		orchestrateCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.PhaseA(context.Background(), phaseAReq())
	if got := KindOf(err); got != KindColdStart {
		t.Fatalf("kind: got %v, want cold_start", got)
	}
	// Original call plus exactly one retry, never a loop.
	if got := orchestrateCalls.Load(); got != 2 {
		t.Errorf("orchestrate calls: got %d, want 2", got)
	}
}

func TestNotFoundIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	_, err := c.PhaseA(context.Background(), phaseAReq())
	if !IsUnavailable(err) {
		t.Errorf("404: got kind %v, want unavailable", KindOf(err))
	}
}

func TestBreakerOpenFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), WithBreaker(BreakerConfig{FailureThreshold: 1, OpenFor: time.Minute, HalfOpenMax: 2}))

	_, err := c.PhaseA(context.Background(), phaseAReq())
	if got := KindOf(err); got != KindDependency {
		t.Fatalf("first failure kind: got %v, want dependency", got)
	}

	before := calls.Load()
	_, err = c.PhaseA(context.Background(), phaseAReq())
	if !IsUnavailable(err) {
		t.Errorf("open breaker: got kind %v, want unavailable", KindOf(err))
	}
	if calls.Load() != before {
		t.Error("open breaker still reached the server")
	}
}

func TestTimeoutKind(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, PhaseAResponse{Phase: "A", ResponseType: ResponseDirectReply, DirectReply: "tarde"})
	}), WithTimeouts(50*time.Millisecond, 50*time.Millisecond, time.Hour))

	_, err := c.PhaseA(context.Background(), phaseAReq())
	if got := KindOf(err); got != KindTimeout {
		t.Errorf("kind: got %v, want timeout", got)
	}
}

func TestLikelyColdHeuristic(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, PhaseAResponse{Phase: "A", ResponseType: ResponseDirectReply, DirectReply: "ya"})
	}))
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.coldAfter = 14 * time.Minute

	if !c.likelyCold() {
		t.Error("fresh client should presume cold")
	}
	if _, err := c.PhaseA(context.Background(), phaseAReq()); err != nil {
		t.Fatalf("PhaseA: %v", err)
	}
	if c.likelyCold() {
		t.Error("cold right after a success")
	}
	now = now.Add(15 * time.Minute)
	if !c.likelyCold() {
		t.Error("warm after 15 quiet minutes")
	}
}

func TestPhaseBRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PhaseBRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Phase != "B" {
			t.Errorf("phase: got %q, want B", req.Phase)
		}
		if req.ToolName != "register_transaction" || !req.ActionResult.OK {
			t.Errorf("request: %+v", req)
		}
		writeJSON(w, PhaseBResponse{
			Phase:        "B",
			FinalMessage: "Listo, anoté $5.000 en comida",
			NewSummary:   "registró un gasto de comida",
			DidNudge:     true,
			NudgeType:    NudgeStreak,
		})
	}))

	resp, err := c.PhaseB(context.Background(), &PhaseBRequest{
		ToolName:     "register_transaction",
		ActionResult: ActionResult{OK: true, Action: "register_transaction"},
		UserContext:  MinimalUserContext{UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("PhaseB: %v", err)
	}
	if resp.FinalMessage == "" || !resp.DidNudge || resp.NudgeType != NudgeStreak {
		t.Errorf("response: %+v", resp)
	}
}

func TestPhaseBUnknownNudgeDropped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, PhaseBResponse{Phase: "B", FinalMessage: "ok", DidNudge: true, NudgeType: "party"})
	}))

	resp, err := c.PhaseB(context.Background(), &PhaseBRequest{ToolName: "greeting"})
	if err != nil {
		t.Fatalf("PhaseB: %v", err)
	}
	if resp.DidNudge || resp.NudgeType != "" {
		t.Errorf("unknown nudge kept: %+v", resp)
	}
}

func TestPhaseBEmptyMessageRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, PhaseBResponse{Phase: "B"})
	}))

	_, err := c.PhaseB(context.Background(), &PhaseBRequest{ToolName: "greeting"})
	if got := KindOf(err); got != KindInvalidResponse {
		t.Errorf("kind: got %v, want invalid_response", got)
	}
}
