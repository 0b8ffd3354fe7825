// Package whatsapp connects to a WhatsApp bridge process over a
// WebSocket. The bridge owns the phone session and the WhatsApp
// protocol; this side speaks newline-free JSON frames both ways.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/channels"
	"github.com/tallyfinance/tally/internal/config"
)

// groupSuffix marks WhatsApp group chats. Groups are out of scope for
// a personal finance assistant, so those frames are dropped.
const groupSuffix = "@g.us"

// bridgeFrame is one JSON frame from the bridge.
type bridgeFrame struct {
	Type    string        `json:"type"`
	From    string        `json:"from"`
	Chat    string        `json:"chat"`
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Media   []bridgeMedia `json:"media,omitempty"`
}

type bridgeMedia struct {
	URL     string `json:"url"`
	Mime    string `json:"mime,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Channel relays messages to and from the bridge with automatic
// reconnection.
type Channel struct {
	*channels.BaseChannel
	config config.WhatsAppConfig
	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.WhatsAppConfig, router bus.MessageRouter, lim channels.Limits) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", router, cfg.AllowFrom, lim),
		config:      cfg,
	}, nil
}

// Start connects to the bridge and begins listening. A failed first
// dial is not fatal; the listen loop keeps retrying.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.SetRunning(false)
	return nil
}

// Send writes a reply frame to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	data, err := json.Marshal(map[string]any{
		"type":    "message",
		"to":      msg.ChatID,
		"content": msg.Content,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.Dial(c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads frames from the bridge, reconnecting with capped
// exponential backoff after any read failure.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		if frame.Type == "message" {
			c.handleFrame(frame)
		}
	}
}

// handleFrame normalizes one inbound bridge frame and hands it to the
// shared inbound path.
func (c *Channel) handleFrame(frame bridgeFrame) {
	if frame.From == "" {
		return
	}

	chatID := frame.Chat
	if chatID == "" {
		chatID = frame.From
	}
	if strings.HasSuffix(chatID, groupSuffix) {
		slog.Debug("whatsapp group message dropped", "chat_id", chatID)
		return
	}

	var media []bus.MediaAttachment
	for _, m := range frame.Media {
		if m.URL == "" {
			continue
		}
		media = append(media, bus.MediaAttachment{
			URL:         m.URL,
			ContentType: m.Mime,
			Caption:     m.Caption,
		})
	}

	slog.Debug("whatsapp message received",
		"sender_id", frame.From,
		"chat_id", chatID,
		"preview", channels.Truncate(frame.Content, 50),
	)

	c.HandleMessage(frame.From, chatID, frame.ID, frame.Content, media, nil)
}
