package config

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Config is the root configuration for the TallyFinance backend.
type Config struct {
	AI        AIConfig                    `json:"ai"`
	Database  DatabaseConfig              `json:"database"`
	State     StateConfig                 `json:"state"`
	Channels  ChannelsConfig              `json:"channels"`
	Gateway   GatewayConfig               `json:"gateway"`
	Pipeline  PipelineConfig              `json:"pipeline"`
	Mood      MoodConfig                  `json:"mood"`
	Scheduler SchedulerConfig             `json:"scheduler"`
	Logging   LoggingConfig               `json:"logging"`
	Telemetry TelemetryConfig             `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig             `json:"tailscale,omitempty"`
	MCP       map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`

	mu sync.RWMutex
}

// AIConfig points at the decision service.
type AIConfig struct {
	BaseURL         string `json:"base_url"`
	WarmTimeoutSec  int    `json:"warm_timeout_sec,omitempty"`  // default 8
	ColdTimeoutSec  int    `json:"cold_timeout_sec,omitempty"`  // default 55
	ColdAfterMin    int    `json:"cold_after_min,omitempty"`    // default 14
	ProbeTimeoutSec int    `json:"probe_timeout_sec,omitempty"` // default 60
	BreakerFailures int    `json:"breaker_failures,omitempty"`  // default 5
	BreakerOpenSec  int    `json:"breaker_open_sec,omitempty"`  // default 30
}

func (a AIConfig) WarmTimeout() time.Duration  { return secsOr(a.WarmTimeoutSec, 8*time.Second) }
func (a AIConfig) ColdTimeout() time.Duration  { return secsOr(a.ColdTimeoutSec, 55*time.Second) }
func (a AIConfig) ProbeTimeout() time.Duration { return secsOr(a.ProbeTimeoutSec, 60*time.Second) }

func (a AIConfig) ColdAfter() time.Duration {
	if a.ColdAfterMin > 0 {
		return time.Duration(a.ColdAfterMin) * time.Minute
	}
	return 14 * time.Minute
}

// DatabaseConfig selects the ledger backend by DSN shape. A DSN with
// credentials belongs in TALLY_DATABASE_DSN, not in the config file.
type DatabaseConfig struct {
	DSN string `json:"dsn,omitempty"` // sqlite path or postgres:// URL
}

// IsPostgres reports whether the DSN points at a Postgres server.
func (d DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.DSN, "postgres://") || strings.HasPrefix(d.DSN, "postgresql://")
}

// StateConfig configures the conversation state store.
type StateConfig struct {
	Path string `json:"path,omitempty"` // sqlite file, or "memory" for tests/REPL
}

// GatewayConfig controls the ops server and inbound message limits.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"token,omitempty"`             // bearer token for the ops WS feed
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`   // WS origin whitelist (empty = allow all)
	MaxMessageChars int      `json:"max_message_chars,omitempty"` // default 2000
	FloodRPM        int      `json:"flood_rpm,omitempty"`         // per-sender messages per minute (default 20, 0 = disabled)
}

// PipelineConfig holds the conversation tuning knobs that operators
// may change without a rebuild.
type PipelineConfig struct {
	SummaryMinHours    int `json:"summary_min_hours,omitempty"`    // default 2
	SummaryMaxHours    int `json:"summary_max_hours,omitempty"`    // default 24
	NudgeCooldownHours int `json:"nudge_cooldown_hours,omitempty"` // default 24
	BudgetWarnHours    int `json:"budget_warn_hours,omitempty"`    // default 24
}

func (p PipelineConfig) SummaryMinTTL() time.Duration {
	return hoursOr(p.SummaryMinHours, 2*time.Hour)
}

func (p PipelineConfig) SummaryMaxTTL() time.Duration {
	return hoursOr(p.SummaryMaxHours, 24*time.Hour)
}

func (p PipelineConfig) NudgeCooldown() time.Duration {
	return hoursOr(p.NudgeCooldownHours, 24*time.Hour)
}

func (p PipelineConfig) BudgetWarnCooldown() time.Duration {
	return hoursOr(p.BudgetWarnHours, 24*time.Hour)
}

// MoodConfig tunes the mood hint sent to Phase B. The budget
// thresholds compare the spent share against the elapsed share of the
// budget period.
type MoodConfig struct {
	BudgetPressure float64 `json:"budget_pressure,omitempty"` // overspend margin that reads as stress (default 0.15)
	BudgetRelief   float64 `json:"budget_relief,omitempty"`   // underspend margin that reads as comfort (default 0.10)
	StreakDays     int     `json:"streak_days,omitempty"`     // consecutive active days that lift the mood (default 3)
	QuietDays      int     `json:"quiet_days,omitempty"`      // inactive days that dampen it (default 5)
}

func (m MoodConfig) WithDefaults() MoodConfig {
	if m.BudgetPressure <= 0 {
		m.BudgetPressure = 0.15
	}
	if m.BudgetRelief <= 0 {
		m.BudgetRelief = 0.10
	}
	if m.StreakDays <= 0 {
		m.StreakDays = 3
	}
	if m.QuietDays <= 0 {
		m.QuietDays = 5
	}
	return m
}

// SchedulerConfig holds the cron lanes, evaluated in Timezone.
type SchedulerConfig struct {
	JanitorCron    string `json:"janitor_cron,omitempty"`    // default "0 * * * *"
	EngagementCron string `json:"engagement_cron,omitempty"` // default "0 20 * * *"
	Timezone       string `json:"timezone,omitempty"`        // default "America/Santiago"
}

// LoggingConfig controls the slog default handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // "debug", "info" (default), "warn", "error"
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// TelemetryConfig configures OTLP span export. When disabled, spans
// stay in the in-memory trace ring only.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // e.g. "localhost:4317" or "https://otel.example.com:4318"
	Protocol    string `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"` // default "tally-backend"
}

// TailscaleConfig configures the optional tsnet ops listener.
type TailscaleConfig struct {
	Hostname string `json:"hostname,omitempty"`
	StateDir string `json:"state_dir,omitempty"`
	AuthKey  string `json:"-"` // from env TALLY_TSNET_AUTH_KEY only
}

// MCPServerConfig configures one external MCP server whose tools join
// the registry at startup.
type MCPServerConfig struct {
	Transport  string            `json:"transport"`             // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`     // stdio: command to spawn
	Args       []string          `json:"args,omitempty"`        // stdio: command arguments
	Env        map[string]string `json:"env,omitempty"`         // stdio: extra environment variables
	URL        string            `json:"url,omitempty"`         // sse/http: server URL
	Headers    map[string]string `json:"headers,omitempty"`     // sse/http: extra HTTP headers
	Enabled    *bool             `json:"enabled,omitempty"`     // default true
	ToolPrefix string            `json:"tool_prefix,omitempty"` // prefix for tool names (avoids collisions)
	TimeoutSec int               `json:"timeout_sec,omitempty"` // per-call timeout (default 60)
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MoodTuning returns the mood thresholds with defaults applied. Safe
// to call concurrently with a reload.
func (c *Config) MoodTuning() MoodConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Mood.WithDefaults()
}

// PipelineTuning returns the live pipeline knobs.
func (c *Config) PipelineTuning() PipelineConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Pipeline
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ParseLevel(c.Logging.Level)
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ApplyReloadable copies the safe-to-reload sections from src. Wiring
// fields (DSNs, tokens, listeners) deliberately require a restart.
func (c *Config) ApplyReloadable(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logging = src.Logging
	c.Mood = src.Mood
	c.Pipeline = src.Pipeline
	c.Scheduler = src.Scheduler
}

func secsOr(v int, def time.Duration) time.Duration {
	if v > 0 {
		return time.Duration(v) * time.Second
	}
	return def
}

func hoursOr(v int, def time.Duration) time.Duration {
	if v > 0 {
		return time.Duration(v) * time.Hour
	}
	return def
}
