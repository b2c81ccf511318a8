package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/durable/internal/queue"
)

const tracerName = "github.com/roach88/durable/internal/engine"

// startEventSpan opens the span covering one queue item.
func startEventSpan(ctx context.Context, tracer trace.Tracer, component string, item queue.Item) (context.Context, trace.Span) {
	return tracer.Start(ctx, "durable.event "+component,
		trace.WithAttributes(
			attribute.String("durable.component", component),
			attribute.String("durable.stream", item.Queue),
			attribute.String("durable.key", item.Key),
			attribute.Int("durable.attempt", item.Attempts+1),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endEventSpan records the outcome and ends the span.
func endEventSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("durable.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
