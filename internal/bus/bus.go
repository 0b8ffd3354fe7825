package bus

import (
	"context"
	"sync"
)

// queueDepth bounds the in-flight message buffers. Past this point
// publishers block, which backpressures the channel adapters.
const queueDepth = 256

// Bus is the in-process message router. One instance wires the
// channel manager, the pipeline, and the gateway event feed.
type Bus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]EventHandler
}

func New() *Bus {
	return &Bus{
		inbound:  make(chan InboundMessage, queueDepth),
		outbound: make(chan OutboundMessage, queueDepth),
		subs:     make(map[string]EventHandler),
	}
}

// PublishInbound queues a user message for the pipeline.
func (b *Bus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks for the next inbound message. Returns false
// when ctx is done.
func (b *Bus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound queues a reply for delivery.
func (b *Bus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks for the next outbound message. Returns false
// when ctx is done.
func (b *Bus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// Subscribe registers an event handler under id, replacing any
// previous handler with the same id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers an event to all subscribers on the caller's
// goroutine. Handlers must not block.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
