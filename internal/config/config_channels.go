package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// WhatsAppConfig configures the bridge connection. WhatsApp is the
// primary surface; the bridge process owns the phone session and
// relays messages as JSON over a WebSocket.
type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	BridgeURL string   `json:"bridge_url"`           // ws:// or wss:// endpoint of the bridge
	AllowFrom []string `json:"allow_from,omitempty"` // phone numbers; empty = open
}

type TelegramConfig struct {
	Enabled       bool     `json:"enabled"`
	Token         string   `json:"token"`
	AllowFrom     []string `json:"allow_from,omitempty"`
	MediaDir      string   `json:"media_dir,omitempty"`       // receipt photo storage (default ~/.tally/media)
	MediaMaxBytes int64    `json:"media_max_bytes,omitempty"` // max photo download size (default 10MB)
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from,omitempty"`
}
