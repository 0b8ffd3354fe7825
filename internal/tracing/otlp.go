package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLPForwarder replays collector spans to an OTLP endpoint. It is
// wired only when an endpoint is configured; the collector works the
// same with or without it.
type OTLPForwarder struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	stop     func()
}

// NewOTLPForwarder connects an exporter ("grpc" or "http" protocol)
// and starts draining the collector's live feed.
func NewOTLPForwarder(ctx context.Context, collector *Collector, endpoint, protocol, serviceName string) (*OTLPForwarder, error) {
	var (
		exporter *otlptrace.Exporter
		err      error
	)
	switch protocol {
	case "grpc":
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("otlp resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	f := &OTLPForwarder{
		provider: provider,
		tracer:   provider.Tracer("tally"),
	}

	feed, cancel := collector.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for span := range feed {
			f.replay(span)
		}
	}()
	f.stop = func() {
		cancel()
		<-done
	}
	return f, nil
}

func (f *OTLPForwarder) replay(s Span) {
	_, span := f.tracer.Start(context.Background(), s.Name,
		trace.WithTimestamp(s.Start),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("tally.correlation_id", s.CorrelationID),
		attribute.String("tally.span_kind", string(s.Kind)),
	)
	for k, v := range s.Attrs {
		span.SetAttributes(attribute.String(k, v))
	}
	if s.Status == StatusError {
		span.SetStatus(codes.Error, s.Error)
	}
	span.End(trace.WithTimestamp(s.End))
}

// Shutdown stops the feed and flushes buffered spans.
func (f *OTLPForwarder) Shutdown(ctx context.Context) error {
	f.stop()
	return f.provider.Shutdown(ctx)
}
