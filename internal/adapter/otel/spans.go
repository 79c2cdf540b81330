package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "parley"

// StartTurnSpan starts a span for one conversation turn.
func StartTurnSpan(ctx context.Context, threadID, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("user.id", userID),
		),
	)
}

// StartToolSpan starts a span for a single tool execution.
func StartToolSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartBatchSpan starts a span for one concurrent execution batch.
func StartBatchSpan(ctx context.Context, groupID string, size int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "batch",
		trace.WithAttributes(
			attribute.String("batch.group_id", groupID),
			attribute.Int("batch.size", size),
		),
	)
}

// StartModelSpan starts a span for a model request.
func StartModelSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		),
	)
}
