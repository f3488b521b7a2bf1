package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "haivemind"

// StartToolCallSpan starts a span for an MCP tool invocation.
func StartToolCallSpan(ctx context.Context, tool, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "mcp.toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.tool", tool),
			attribute.String("toolcall.agent_id", agentID),
		),
	)
}

// StartSyncSpan starts a span for a peer sync exchange.
func StartSyncSpan(ctx context.Context, peerMachineID, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync."+operation,
		trace.WithAttributes(
			attribute.String("sync.peer_machine_id", peerMachineID),
			attribute.String("sync.operation", operation),
		),
	)
}

// StartEmbeddingSpan starts a span for an embedding provider call.
func StartEmbeddingSpan(ctx context.Context, model string, count int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "embedding.embed",
		trace.WithAttributes(
			attribute.String("embedding.model", model),
			attribute.Int("embedding.count", count),
		),
	)
}
