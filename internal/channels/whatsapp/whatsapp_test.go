package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/tallyfinance/tally/internal/bus"
	"github.com/tallyfinance/tally/internal/channels"
	"github.com/tallyfinance/tally/internal/config"
)

func newTestChannel(t *testing.T, router *bus.Bus) *Channel {
	t.Helper()
	c, err := New(config.WhatsAppConfig{BridgeURL: "ws://127.0.0.1:9"}, router, channels.Limits{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func consume(t *testing.T, router *bus.Bus, wait time.Duration) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return router.ConsumeInbound(ctx)
}

func TestHandleFrame(t *testing.T) {
	router := bus.New()
	c := newTestChannel(t, router)

	c.handleFrame(bridgeFrame{
		Type:    "message",
		From:    "56912345678@c.us",
		Chat:    "56912345678@c.us",
		ID:      "wa-123",
		Content: "gasté 5 lucas en café",
		Media: []bridgeMedia{
			{URL: "/tmp/receipt.jpg", Mime: "image/jpeg", Caption: "boleta"},
			{URL: ""},
		},
	})

	msg, ok := consume(t, router, time.Second)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	if msg.Channel != "whatsapp" || msg.SenderID != "56912345678@c.us" || msg.MessageID != "wa-123" {
		t.Errorf("unexpected identity: %+v", msg)
	}
	if len(msg.Media) != 1 || msg.Media[0].URL != "/tmp/receipt.jpg" {
		t.Errorf("media not normalized: %+v", msg.Media)
	}
}

func TestHandleFrameGroupDropped(t *testing.T) {
	router := bus.New()
	c := newTestChannel(t, router)

	c.handleFrame(bridgeFrame{
		Type:    "message",
		From:    "56912345678@c.us",
		Chat:    "123456789@g.us",
		ID:      "wa-456",
		Content: "hola a todos",
	})

	if _, ok := consume(t, router, 50*time.Millisecond); ok {
		t.Fatal("group message should be dropped")
	}
}

func TestHandleFrameChatFallsBackToSender(t *testing.T) {
	router := bus.New()
	c := newTestChannel(t, router)

	c.handleFrame(bridgeFrame{Type: "message", From: "56912345678@c.us", ID: "wa-789", Content: "hola"})

	msg, ok := consume(t, router, time.Second)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	if msg.ChatID != "56912345678@c.us" {
		t.Errorf("ChatID = %q, want sender id", msg.ChatID)
	}
}
