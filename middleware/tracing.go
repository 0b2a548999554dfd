package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/circulate/sched"
)

// tracerName is the instrumentation scope name for circulate tracing.
const tracerName = "github.com/xraph/circulate"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: circulate.task.id, circulate.task.label, and
// circulate.task.queue_wait_ms. On error, the span status is set to
// codes.Error with the error message.
func Tracing() sched.Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) sched.Middleware {
	return func(ctx context.Context, t *sched.Task, next sched.Handler) error {
		ctx, span := tracer.Start(ctx, "circulate.task.execute",
			trace.WithAttributes(
				attribute.String("circulate.task.id", t.ID.String()),
				attribute.String("circulate.task.label", t.Label),
				attribute.Int64("circulate.task.queue_wait_ms", t.StartedAt.Sub(t.EnqueuedAt).Milliseconds()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
