package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tallyfinance/tally/internal/tracing"
)

const (
	orchestratePath = "/orchestrate"
	healthPath      = "/health"

	// The service scales to zero; a call after 14 quiet minutes is
	// presumed to hit a cold instance and gets the long timeout.
	defaultWarmTimeout = 8 * time.Second
	defaultColdTimeout = 55 * time.Second
	defaultColdAfter   = 14 * time.Minute

	// The liveness probe may ride out a full cold boot.
	defaultProbeTimeout = 60 * time.Second
)

var errBreakerOpen = errors.New("circuit breaker open")

// Client calls the decision service. Safe for concurrent use; one
// instance per process shares the breaker and cold-start heuristic
// across all users.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *Breaker

	warmTimeout  time.Duration
	coldTimeout  time.Duration
	coldAfter    time.Duration
	probeTimeout time.Duration

	// wake bounds liveness probes so concurrent cold calls do not
	// stampede the health endpoint.
	wake *rate.Limiter

	mu          sync.Mutex
	lastSuccess time.Time
	now         func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(c *Client) { c.breaker = NewBreaker(cfg) }
}

func WithTimeouts(warm, cold, coldAfter time.Duration) Option {
	return func(c *Client) {
		if warm > 0 {
			c.warmTimeout = warm
		}
		if cold > 0 {
			c.coldTimeout = cold
		}
		if coldAfter > 0 {
			c.coldAfter = coldAfter
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		breaker:      NewBreaker(DefaultBreakerConfig()),
		warmTimeout:  defaultWarmTimeout,
		coldTimeout:  defaultColdTimeout,
		coldAfter:    defaultColdAfter,
		probeTimeout: defaultProbeTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.wake = rate.NewLimiter(rate.Every(c.probeTimeout), 1)
	return c
}

// PhaseA asks the service to decide what to do with the user's text.
func (c *Client) PhaseA(ctx context.Context, req *PhaseARequest) (*PhaseAResponse, error) {
	req.Phase = "A"
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal phase A request: %w", err)
	}
	data, err := c.do(ctx, "phase_a", body)
	if err != nil {
		return nil, err
	}

	var resp PhaseAResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.breaker.Failure()
		return nil, &Error{Kind: KindInvalidResponse, Op: "phase_a", Err: err}
	}
	if err := validatePhaseA(&resp); err != nil {
		c.breaker.Failure()
		return nil, &Error{Kind: KindInvalidResponse, Op: "phase_a", Err: err}
	}
	c.markSuccess()
	return &resp, nil
}

// PhaseB asks the service to phrase the outcome of an executed tool.
func (c *Client) PhaseB(ctx context.Context, req *PhaseBRequest) (*PhaseBResponse, error) {
	req.Phase = "B"
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal phase B request: %w", err)
	}
	data, err := c.do(ctx, "phase_b", body)
	if err != nil {
		return nil, err
	}

	var resp PhaseBResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.breaker.Failure()
		return nil, &Error{Kind: KindInvalidResponse, Op: "phase_b", Err: err}
	}
	if err := validatePhaseB(&resp); err != nil {
		c.breaker.Failure()
		return nil, &Error{Kind: KindInvalidResponse, Op: "phase_b", Err: err}
	}
	c.markSuccess()
	return &resp, nil
}

// do runs one orchestrate call through the breaker, picking the
// timeout from the cold-start heuristic and applying the wake-and-
// retry path on cold signals. Transport failures are classified and
// recorded here; decoding and structural validation happen in the
// phase methods.
func (c *Client) do(ctx context.Context, op string, body []byte) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: errBreakerOpen}
	}

	timeout := c.warmTimeout
	if c.likelyCold() {
		timeout = c.coldTimeout
	}

	data, err := c.post(ctx, timeout, body)
	if err == nil {
		return data, nil
	}

	switch {
	case isColdSignal(err):
		data, retryErr := c.wakeAndRetry(ctx, op, body)
		if retryErr == nil {
			return data, nil
		}
		c.breaker.Failure()
		return nil, &Error{Kind: KindColdStart, Op: op, Err: retryErr}
	case isTimeout(err):
		c.breaker.Failure()
		return nil, &Error{Kind: KindTimeout, Op: op, Err: err}
	case isNotFound(err):
		c.breaker.Failure()
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: err}
	default:
		c.breaker.Failure()
		return nil, &Error{Kind: KindDependency, Op: op, Err: err}
	}
}

// wakeAndRetry probes the liveness endpoint (once per probe window
// across all goroutines) and retries the original call with the short
// timeout. A cold instance that just answered its health check should
// answer the retry promptly.
func (c *Client) wakeAndRetry(ctx context.Context, op string, body []byte) ([]byte, error) {
	if c.wake.Allow() {
		if err := c.Probe(ctx); err != nil {
			return nil, fmt.Errorf("wake probe: %w", err)
		}
		slog.Info("decision service awake after probe", "op", op)
	} else {
		slog.Debug("wake probe skipped, another probe ran recently", "op", op)
	}
	return c.post(ctx, c.warmTimeout, body)
}

// Probe hits the liveness endpoint; any 2xx means awake. Exported for
// the doctor command.
func (c *Client) Probe(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: "liveness probe"}
	}
	return nil
}

func (c *Client) post(ctx context.Context, timeout time.Duration, body []byte) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+orchestratePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := tracing.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-Id", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}
	return data, nil
}

// BreakerState exposes the breaker position for health reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

func (c *Client) likelyCold() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess.IsZero() || c.now().Sub(c.lastSuccess) >= c.coldAfter
}

func (c *Client) markSuccess() {
	c.breaker.Success()
	c.mu.Lock()
	c.lastSuccess = c.now()
	c.mu.Unlock()
}

// isColdSignal matches the ways a scaled-to-zero service refuses work:
// the platform answers 502/503 for an instance that is not up yet, or
// the connection itself fails.
func isColdSignal(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusBadGateway || httpErr.Status == http.StatusServiceUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !urlErr.Timeout()
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func isNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

func validatePhaseA(resp *PhaseAResponse) error {
	switch resp.ResponseType {
	case ResponseToolCall:
		if resp.ToolCall == nil || resp.ToolCall.Name == "" {
			return errors.New("tool_call payload missing")
		}
	case ResponseClarification:
		if resp.Clarification == "" {
			return errors.New("clarification payload missing")
		}
	case ResponseDirectReply:
		if resp.DirectReply == "" {
			return errors.New("direct_reply payload missing")
		}
	default:
		return fmt.Errorf("unknown response_type %q", resp.ResponseType)
	}
	return nil
}

func validatePhaseB(resp *PhaseBResponse) error {
	if resp.FinalMessage == "" {
		return errors.New("final_message missing")
	}
	// Nudge metadata is a hint, not a contract: an unknown type drops
	// the nudge instead of failing the whole response.
	if resp.DidNudge {
		switch resp.NudgeType {
		case NudgeBudget, NudgeGoal, NudgeStreak:
		default:
			slog.Warn("dropping nudge with unknown type", "nudge_type", resp.NudgeType)
			resp.DidNudge = false
			resp.NudgeType = ""
		}
	}
	return nil
}
