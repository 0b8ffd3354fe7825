// Package bus routes messages between channel adapters and the
// pipeline, and fans out ops events to gateway subscribers.
package bus

import (
	"context"
	"time"
)

// InboundMessage is one user message normalized from any channel.
type InboundMessage struct {
	Channel    string            `json:"channel"`    // "whatsapp", "telegram", "discord"
	SenderID   string            `json:"sender_id"`  // channel-native sender id (phone number, numeric id)
	ChatID     string            `json:"chat_id"`    // reply destination
	MessageID  string            `json:"message_id"` // channel-native message id; dedup key with Channel
	Content    string            `json:"content"`
	Media      []MediaAttachment `json:"media,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply or nudge headed to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment represents a media file attached to a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// Event represents a server-side event to broadcast to WebSocket
// clients.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription. Used by
// the gateway server to decouple from the concrete Bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between
// channels and the pipeline.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
