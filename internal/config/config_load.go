package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults for a single-host
// deployment.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			BaseURL: "http://localhost:8000",
		},
		Database: DatabaseConfig{
			DSN: "~/.tally/tally.db",
		},
		State: StateConfig{
			Path: "~/.tally/state.db",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				BridgeURL: "ws://localhost:3001/ws",
			},
			Telegram: TelegramConfig{
				MediaDir:      "~/.tally/media",
				MediaMaxBytes: 10 << 20,
			},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18890,
			MaxMessageChars: 2000,
			FloodRPM:        20,
		},
		Mood: MoodConfig{}.WithDefaults(),
		Scheduler: SchedulerConfig{
			JanitorCron:    "0 * * * *",
			EngagementCron: "0 20 * * *",
			Timezone:       "America/Santiago",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath is where the CLI looks for config when --config is not
// given.
func DefaultPath() string {
	return ExpandHome("~/.tally/config.json5")
}

// Load reads config from a json5 file, then overlays env vars. A
// missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays TALLY_* env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("TALLY_AI_BASE_URL", &c.AI.BaseURL)
	envStr("TALLY_DATABASE_DSN", &c.Database.DSN)
	envStr("TALLY_STATE_PATH", &c.State.Path)
	envStr("TALLY_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("TALLY_LOG_LEVEL", &c.Logging.Level)

	envStr("TALLY_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("TALLY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("TALLY_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Auto-enable channels if credentials are provided. The WhatsApp
	// bridge URL has a default, so only an explicit env value counts.
	if os.Getenv("TALLY_WHATSAPP_BRIDGE_URL") != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("TALLY_HOST", &c.Gateway.Host)
	if v := os.Getenv("TALLY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("TALLY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TALLY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("TALLY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	envStr("TALLY_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("TALLY_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("TALLY_TSNET_DIR", &c.Tailscale.StateDir)
}

// Save writes the config to a json file, creating the directory.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LedgerDSN returns the database DSN with ~ expanded for the sqlite
// case.
func (c *Config) LedgerDSN() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Database.IsPostgres() {
		return c.Database.DSN
	}
	return ExpandHome(c.Database.DSN)
}

// StatePath returns the state store path with ~ expanded.
func (c *Config) StatePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.State.Path)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// Redacted returns a single-line summary safe for logs.
func (c *Config) Redacted() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db := "sqlite"
	if c.Database.IsPostgres() {
		db = "postgres"
	}
	channels := make([]string, 0, 3)
	if c.Channels.WhatsApp.Enabled {
		channels = append(channels, "whatsapp")
	}
	if c.Channels.Telegram.Enabled {
		channels = append(channels, "telegram")
	}
	if c.Channels.Discord.Enabled {
		channels = append(channels, "discord")
	}
	return fmt.Sprintf("ai=%s db=%s channels=[%s] gateway=%s:%d",
		c.AI.BaseURL, db, strings.Join(channels, ","), c.Gateway.Host, c.Gateway.Port)
}
