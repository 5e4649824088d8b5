package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan starts the root span of one invocation.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, runID string, total, concurrency int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "b52 run")
	span.SetAttributes(
		attribute.String("b52.run_id", runID),
		attribute.Int("b52.total", total),
		attribute.Int("b52.concurrency", concurrency),
	)
	return ctx, span
}

// StartBatchSpan starts a span covering one batch.
func StartBatchSpan(ctx context.Context, tracer trace.Tracer, batch, size int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "b52 batch")
	span.SetAttributes(
		attribute.Int("b52.batch.index", batch),
		attribute.Int("b52.batch.size", size),
	)
	return ctx, span
}

// StartTransferSpan starts a client span for one slot of a batch.
func StartTransferSpan(ctx context.Context, tracer trace.Tracer, index int, url string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "HTTP GET",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("http.request.method", http.MethodGet),
		attribute.Int("b52.slot", index),
	)
	if url != "" {
		span.SetAttributes(attribute.String("url.full", url))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
