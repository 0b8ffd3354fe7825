// Package discord is a slim DM-only Discord surface.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/channels"
	"github.com/tallyfinance/tally/internal/config"
)

// discordMaxLen is Discord's hard message length limit.
const discordMaxLen = 2000

// Channel connects to Discord via the gateway and relays direct
// messages.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string
}

func New(cfg config.DiscordConfig, router bus.MessageRouter, lim channels.Limits) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", router, cfg.AllowFrom, lim),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers an outbound message, splitting past Discord's length
// limit on a newline where possible.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	content := msg.Content
	for len(content) > 0 {
		chunk := content
		if len(chunk) > discordMaxLen {
			cutAt := discordMaxLen
			if idx := lastIndexByte(content[:discordMaxLen], '\n'); idx > discordMaxLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// handleMessage forwards direct messages to the pipeline. Guild
// messages are ignored; this surface is DM only.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.GuildID != "" {
		return
	}

	content := m.Content
	if content == "" {
		return
	}

	slog.Debug("discord message received",
		"sender_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(m.Author.ID, m.ChannelID, m.ID, content, nil, nil)
}

// lastIndexByte returns the last index of byte b in s, or -1.
func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
