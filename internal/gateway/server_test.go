package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/pkg/protocol"
)

// failingStore always fails Ping to simulate a degraded state store.
type failingStore struct{ statestore.Store }

func (failingStore) Ping(context.Context) error { return errors.New("down") }
func (failingStore) Close() error               { return nil }

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewServer(cfg, Deps{
		Events:  bus.New(),
		State:   statestore.NewMemory(),
		Version: "test",
	})
}

func TestHealthzOK(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health protocol.HealthPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.Breaker != "unknown" {
		t.Errorf("breaker = %q, want unknown without an AI client", health.Breaker)
	}
}

func TestHealthzDegraded(t *testing.T) {
	s := newTestServer(t, nil)
	s.state = failingStore{}

	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "tally_uptime_seconds") {
		t.Error("metrics output missing uptime gauge")
	}
}

func TestAuthorized(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		query  string
		want   bool
	}{
		{"no token configured", "", "", "", true},
		{"bearer match", "s3cret", "Bearer s3cret", "", true},
		{"bearer mismatch", "s3cret", "Bearer wrong", "", false},
		{"query match", "s3cret", "", "s3cret", true},
		{"missing credentials", "s3cret", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, func(c *config.Config) { c.Gateway.Token = tt.token })

			target := "/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			if got := s.authorized(req); got != tt.want {
				t.Errorf("authorized = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleMethod(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res := s.handleMethod(ctx, &protocol.Request{Type: protocol.FrameRequest, ID: "1", Method: protocol.MethodHealth})
	if !res.OK {
		t.Errorf("health method failed: %s", res.Error)
	}

	res = s.handleMethod(ctx, &protocol.Request{Type: protocol.FrameRequest, ID: "2", Method: "nope"})
	if res.OK {
		t.Error("unknown method should fail")
	}

	res = s.handleMethod(ctx, &protocol.Request{Type: protocol.FrameRequest, ID: "3", Method: protocol.MethodChannelsStatus})
	if res.OK {
		t.Error("channels.status without a manager should fail")
	}
}
