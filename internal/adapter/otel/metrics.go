package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "haivemind"

// Metrics holds all haivemind metric instruments.
type Metrics struct {
	MemoriesStored    metric.Int64Counter
	MemoriesRecalled   metric.Int64Counter
	SyncEventsSent     metric.Int64Counter
	SyncEventsReceived metric.Int64Counter
	ContradictionsFound metric.Int64Counter
	ToolCalls          metric.Int64Counter
	StoreDuration      metric.Float64Histogram
	SearchDuration     metric.Float64Histogram
	ConfidenceDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MemoriesStored, err = meter.Int64Counter("haivemind.memories.stored",
		metric.WithDescription("Number of memories stored"))
	if err != nil {
		return nil, err
	}

	m.MemoriesRecalled, err = meter.Int64Counter("haivemind.memories.recalled",
		metric.WithDescription("Number of memories returned by search/recall"))
	if err != nil {
		return nil, err
	}

	m.SyncEventsSent, err = meter.Int64Counter("haivemind.sync.events_sent",
		metric.WithDescription("Number of sync events sent to peers"))
	if err != nil {
		return nil, err
	}

	m.SyncEventsReceived, err = meter.Int64Counter("haivemind.sync.events_received",
		metric.WithDescription("Number of sync events received from peers"))
	if err != nil {
		return nil, err
	}

	m.ContradictionsFound, err = meter.Int64Counter("haivemind.confidence.contradictions_found",
		metric.WithDescription("Number of contradictions detected between memories"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("haivemind.mcp.toolcalls",
		metric.WithDescription("Number of MCP tool calls handled"))
	if err != nil {
		return nil, err
	}

	m.StoreDuration, err = meter.Float64Histogram("haivemind.memory.store_duration_seconds",
		metric.WithDescription("Time to store a memory, including embedding and dedup check"))
	if err != nil {
		return nil, err
	}

	m.SearchDuration, err = meter.Float64Histogram("haivemind.memory.search_duration_seconds",
		metric.WithDescription("Time to execute a hybrid search"))
	if err != nil {
		return nil, err
	}

	m.ConfidenceDuration, err = meter.Float64Histogram("haivemind.confidence.score_duration_seconds",
		metric.WithDescription("Time to compute a confidence score"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
