package metrics

import "context"

// Collector receives engine metrics. MetricsCollector exports them to
// Prometheus; NoopCollector drops them.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordEvent(ctx context.Context, eventType string, outcome string)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)
	RecordEdgeMaintenance(ctx context.Context, action string, count int)
}

// Event outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Edge maintenance actions performed while reading the graph.
const (
	EdgeDecayed  = "decayed"
	EdgeArchived = "archived"
	EdgeRepaired = "repaired"
)
