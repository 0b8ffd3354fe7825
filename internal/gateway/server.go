// Package gateway is the ops surface: health and metrics endpoints
// plus a WebSocket feed of pipeline events for operators and the tail
// command. It never carries user message text.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/channels"
	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/internal/mcp"
	"github.com/tallyfinance/tally/internal/metrics"
	"github.com/tallyfinance/tally/internal/statestore"
	"github.com/tallyfinance/tally/pkg/protocol"
)

// BreakerReporter is the slice of the AI client the health endpoint
// reads.
type BreakerReporter interface {
	BreakerState() ai.BreakerState
}

// Deps wires a Server. State and Events must be set; the rest degrade
// to "unknown" in health output when nil.
type Deps struct {
	Events   bus.EventPublisher
	State    statestore.Store
	Breaker  BreakerReporter
	Channels *channels.Manager
	MCP      *mcp.Manager
	Version  string
}

// Server serves /healthz, /metrics, and the /ws event feed.
type Server struct {
	cfg      *config.Config
	events   bus.EventPublisher
	state    statestore.Store
	breaker  BreakerReporter
	channels *channels.Manager
	mcp      *mcp.Manager
	version  string

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
	tsServer   *tsnet.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, d Deps) *Server {
	return &Server{
		cfg:      cfg,
		events:   d.Events,
		state:    d.State,
		breaker:  d.Breaker,
		channels: d.Channels,
		mcp:      d.MCP,
		version:  d.Version,
		clients:  make(map[string]*client),
	}
}

// BuildMux creates and caches the HTTP mux. Called before Start when
// an additional listener (tsnet) needs the same routes.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Default.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.mux = mux
	return mux
}

// Start listens until ctx is done. When a tailnet is configured the
// same mux is additionally served over tsnet.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("ops server starting", "addr", addr)

	if s.cfg.Tailscale.Hostname != "" {
		if err := s.startTailnet(mux); err != nil {
			slog.Error("tailnet listener failed", "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		if s.tsServer != nil {
			s.tsServer.Close()
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// startTailnet exposes the ops mux on the tailnet, reachable only by
// devices in the same network.
func (s *Server) startTailnet(mux *http.ServeMux) error {
	ts := &tsnet.Server{
		Hostname: s.cfg.Tailscale.Hostname,
		Dir:      s.cfg.Tailscale.StateDir,
		AuthKey:  s.cfg.Tailscale.AuthKey,
	}
	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		ts.Close()
		return fmt.Errorf("tsnet listen: %w", err)
	}
	s.tsServer = ts

	slog.Info("ops server listening on tailnet", "hostname", s.cfg.Tailscale.Hostname)
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			slog.Warn("tailnet serve stopped", "error", err)
		}
	}()
	return nil
}

// Health assembles the current health snapshot. Shared by the HTTP
// endpoint, the WS method, and the periodic health event.
func (s *Server) Health(ctx context.Context) protocol.HealthPayload {
	status := "ok"
	if s.state != nil {
		if err := s.state.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	breaker := "unknown"
	if s.breaker != nil {
		breaker = s.breaker.BreakerState().String()
	}

	var chans map[string]bool
	if s.channels != nil {
		chans = s.channels.Status()
	}

	return protocol.HealthPayload{
		Status:   status,
		Breaker:  breaker,
		Channels: chans,
		UptimeS:  int64(metrics.Default.Uptime().Seconds()),
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := s.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// authorized checks the bearer token on the ops feed. An unset token
// leaves the feed open (localhost / tailnet deployments).
func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true
	}
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if presented == "" {
		presented = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Gateway.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Gateway.AllowedOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	c := newClient(conn)
	s.registerClient(c)
	defer s.unregisterClient(c)

	c.run(r.Context(), s)
}

// BroadcastEvent pushes a frame to every connected ops client.
func (s *Server) BroadcastEvent(frame *protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.sendFrame(frame)
	}
}

func (s *Server) registerClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.events.Subscribe(c.id, func(event bus.Event) {
		c.sendFrame(protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("ops client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.events.Unsubscribe(c.id)
	slog.Info("ops client disconnected", "id", c.id)
}

// handleMethod answers one RPC request from an ops client.
func (s *Server) handleMethod(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodHealth:
		return protocol.NewResponse(req.ID, s.Health(ctx))

	case protocol.MethodStatus:
		return protocol.NewResponse(req.ID, map[string]any{
			"version":  s.version,
			"protocol": protocol.ProtocolVersion,
			"uptime_s": int64(metrics.Default.Uptime().Seconds()),
		})

	case protocol.MethodChannelsStatus:
		if s.channels == nil {
			return protocol.NewErrorResponse(req.ID, "channels not available")
		}
		return protocol.NewResponse(req.ID, s.channels.Status())

	case protocol.MethodMCPStatus:
		if s.mcp == nil {
			return protocol.NewErrorResponse(req.ID, "mcp not available")
		}
		return protocol.NewResponse(req.ID, s.mcp.ServerStatus())

	default:
		return protocol.NewErrorResponse(req.ID, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// StartTestServer listens on a random localhost port and returns the
// address and a start function. Used by integration tests.
func StartTestServer(ctx context.Context, s *Server) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}

func newClientID() string {
	return uuid.NewString()[:8]
}
