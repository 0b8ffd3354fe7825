// Package channels connects the chat surfaces (WhatsApp bridge,
// Telegram, Discord) to the pipeline through the message bus. Each
// adapter normalizes platform messages into bus.InboundMessage and
// delivers pipeline replies back out.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tallyfinance/tally/internal/bus"
)

// defaultMaxMessageChars bounds inbound text when config leaves the
// limit unset.
const defaultMaxMessageChars = 2000

// Channel is implemented by every chat surface adapter.
type Channel interface {
	// Name returns the channel identifier ("whatsapp", "telegram", "discord").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing.
	IsRunning() bool
}

// Limits are the inbound guards shared by all adapters.
type Limits struct {
	MaxMessageChars int // runes kept per message; 0 = default
	FloodRPM        int // per-sender messages per minute; 0 = disabled
}

// BaseChannel provides the shared inbound path: allow-list, flood
// guard, length clamp, and publication to the bus. Adapters embed it.
type BaseChannel struct {
	name      string
	router    bus.MessageRouter
	running   bool
	allowList []string
	flood     *FloodGuard
	maxChars  int
}

func NewBaseChannel(name string, router bus.MessageRouter, allowList []string, lim Limits) *BaseChannel {
	maxChars := lim.MaxMessageChars
	if maxChars <= 0 {
		maxChars = defaultMaxMessageChars
	}
	var flood *FloodGuard
	if lim.FloodRPM > 0 {
		flood = NewFloodGuard(lim.FloodRPM)
	}
	return &BaseChannel{
		name:      name,
		router:    router,
		allowList: allowList,
		flood:     flood,
		maxChars:  maxChars,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Router returns the message bus reference.
func (c *BaseChannel) Router() bus.MessageRouter { return c.router }

// IsAllowed checks the sender against the allow-list. An empty list
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// HandleMessage runs the shared inbound guards and publishes the
// message for the pipeline. Messages from disallowed or flooding
// senders are dropped here, before any state is touched.
func (c *BaseChannel) HandleMessage(senderID, chatID, messageID, content string, media []bus.MediaAttachment, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		slog.Debug("message rejected by allowlist", "channel", c.name, "sender_id", senderID)
		return
	}
	if c.flood != nil && !c.flood.Allow(senderID) {
		slog.Debug("message dropped by flood guard", "channel", c.name, "sender_id", senderID)
		return
	}

	c.router.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     chatID,
		MessageID:  messageID,
		Content:    ClampRunes(content, c.maxChars),
		Media:      media,
		ReceivedAt: time.Now().UTC(),
		Metadata:   metadata,
	})
}

// ClampRunes shortens s to at most maxRunes runes, cutting on a rune
// boundary.
func ClampRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

// Truncate shortens a string to maxLen bytes, appending "..." when cut.
// Used for log previews only.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
