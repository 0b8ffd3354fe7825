package tracing

import (
	"sync"
	"time"
)

type SpanKind string

const (
	SpanPipeline SpanKind = "pipeline"
	SpanDecision SpanKind = "decision"
	SpanTool     SpanKind = "tool"
	SpanStore    SpanKind = "store"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Span is one timed unit of work inside a message cycle.
type Span struct {
	CorrelationID string            `json:"correlation_id"`
	Kind          SpanKind          `json:"kind"`
	Name          string            `json:"name"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Status        string            `json:"status"`
	Error         string            `json:"error,omitempty"`
	Attrs         map[string]string `json:"attrs,omitempty"`
}

func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Collector keeps the last N spans and fans them out to live
// subscribers. Emission never blocks: a slow subscriber loses spans
// rather than stalling the pipeline.
type Collector struct {
	mu      sync.Mutex
	buf     []Span
	next    int
	wrapped bool
	subs    map[uint64]chan Span
	nextSub uint64
}

const defaultCapacity = 512

func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Collector{
		buf:  make([]Span, capacity),
		subs: make(map[uint64]chan Span),
	}
}

// Emit records a span. Safe on a nil collector.
func (c *Collector) Emit(span Span) {
	if c == nil {
		return
	}
	if span.Status == "" {
		span.Status = StatusOK
	}
	c.mu.Lock()
	c.buf[c.next] = span
	c.next++
	if c.next == len(c.buf) {
		c.next = 0
		c.wrapped = true
	}
	for _, ch := range c.subs {
		select {
		case ch <- span:
		default:
		}
	}
	c.mu.Unlock()
}

// Recent returns up to n spans, oldest first.
func (c *Collector) Recent(n int) []Span {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var ordered []Span
	if c.wrapped {
		ordered = append(ordered, c.buf[c.next:]...)
		ordered = append(ordered, c.buf[:c.next]...)
	} else {
		ordered = append(ordered, c.buf[:c.next]...)
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Subscribe registers a live span feed. The returned cancel func must
// be called to release the subscription; the channel closes after
// cancel.
func (c *Collector) Subscribe(buffer int) (<-chan Span, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Span, buffer)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}
