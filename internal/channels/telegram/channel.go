// Package telegram is the Telegram surface: long-polling bot, the
// /start deep link for account linking, and receipt photo intake.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/channels"
	"github.com/tallyfinance/tally/internal/config"
)

// startLinkPrefix is the deep-link payload format: t.me/<bot>?start=link-<code>
// arrives as "/start link-<code>".
const startLinkPrefix = "link-"

const welcomeText = "¡Hola! Soy Tally 👋 Para conectar tu cuenta, abre la app y " +
	"genera un código de vinculación, luego escríbeme \"link <código>\"."

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, router bus.MessageRouter, lim channels.Limits) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", router, cfg.AllowFrom, lim),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for updates. Stop cancels the polling
// context and waits for the goroutine to exit so Telegram releases the
// getUpdates lock.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the bot and waits for the polling goroutine.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send delivers an outbound message to a Telegram chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// handleMessage normalizes one Telegram message. Group chats are out
// of scope; only private chats reach the pipeline.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	from := msg.From
	if from == nil || from.IsBot {
		return
	}
	if msg.Chat.Type != telego.ChatTypePrivate {
		slog.Debug("telegram non-private message dropped", "chat_id", msg.Chat.ID)
		return
	}

	senderID := strconv.FormatInt(from.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	messageID := strconv.Itoa(msg.MessageID)

	content := msg.Text

	// Deep link from the app: "/start link-<code>" becomes a link
	// command; a bare /start gets a local welcome and stops here.
	if strings.HasPrefix(content, "/start") {
		arg := strings.TrimSpace(strings.TrimPrefix(content, "/start"))
		if code, ok := strings.CutPrefix(arg, startLinkPrefix); ok && code != "" {
			content = "link " + code
		} else {
			if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), welcomeText)); err != nil {
				slog.Warn("telegram welcome send failed", "error", err)
			}
			return
		}
	}

	// Receipt photos: download and normalize the largest rendition.
	var media []bus.MediaAttachment
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		path, err := c.fetchPhoto(ctx, photo.FileID)
		if err != nil {
			slog.Warn("failed to download telegram photo", "file_id", photo.FileID, "error", err)
		} else {
			media = append(media, bus.MediaAttachment{
				URL:         path,
				ContentType: "image/jpeg",
				Caption:     msg.Caption,
			})
		}
		if content == "" {
			content = msg.Caption
		}
	}

	slog.Debug("telegram message received",
		"sender_id", senderID,
		"chat_id", chatID,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(senderID, chatID, messageID, content, media, nil)
}
