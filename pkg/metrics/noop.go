package metrics

import "context"

// NoopCollector drops every metric.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordEvent(ctx context.Context, eventType string, outcome string) {}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}

func (n *NoopCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {}

func (n *NoopCollector) RecordEdgeMaintenance(ctx context.Context, action string, count int) {}
