package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// tracerName identifies switchboard spans in exported traces.
const tracerName = "github.com/switchboardlabs/switchboard"

// Tracer creates spans against the globally installed tracer provider.
// Switchboard never installs a provider itself; the embedding process decides
// whether and where traces are exported.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer backed by the global provider. Without an
// installed provider all spans are no-ops.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// Start begins a span. A nil Tracer returns the context unchanged with a
// no-op span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return noop.NewTracerProvider().Tracer(tracerName).Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan finishes a span, recording err as the span status when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
