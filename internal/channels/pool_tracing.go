package channels

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "coterie/channels"

func startBatchSpan(ctx context.Context, channelName string, targets int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "channels.batch",
		trace.WithAttributes(
			attribute.String("channel.name", channelName),
			attribute.Int("batch.targets", targets),
		))
}

func startRoundSpan(ctx context.Context, round, targets int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "channels.round",
		trace.WithAttributes(
			attribute.Int("round.number", round),
			attribute.Int("round.targets", targets),
		))
}

func startTurnSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "channels.turn",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
		))
}
