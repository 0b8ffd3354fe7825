// Package tracing carries a correlation ID through one message cycle
// and collects timing spans for the pipeline, decision-service calls,
// and tool executions. Spans land in an in-process ring buffer that
// the gateway and the tail command read; an optional OTLP forwarder
// replays them to an external collector.
package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	collectorKey
)

// NewCorrelationID returns a fresh cycle identifier.
func NewCorrelationID() string {
	return uuid.NewString()
}

// ContextWithCorrelationID attaches the cycle identifier.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the cycle identifier, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// EnsureCorrelationID returns a context that carries a correlation ID,
// minting one when absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return ContextWithCorrelationID(ctx, id), id
}

// ContextWithCollector attaches the span collector.
func ContextWithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey, c)
}

// CollectorFromContext returns the span collector, or nil when tracing
// is not active.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey).(*Collector)
	return c
}
