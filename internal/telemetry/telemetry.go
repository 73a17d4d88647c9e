// Package telemetry wraps OpenTelemetry span creation around resolver
// suspension points: cache get/put, transport fetch/range and BLTE
// decode. It does not configure an exporter or SDK tracer provider —
// callers embedding this library wire their own otel.SetTracerProvider;
// by default spans are created against the no-op provider and cost
// nothing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ngdp-go/casc"

// StartSpan starts a span under the library's tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records err on span and sets the span status to error. A
// nil err is a no-op so callers can defer-call it unconditionally.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceExecutionTime runs fn inside a span named name, recording its
// wall-clock duration and any returned error.
func TraceExecutionTime(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := StartSpan(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	RecordError(span, err)
	return err
}
