package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics for learngraph operations.
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	eventsTotal       *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
	edgeMaintenance   *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCollector creates a collector with its own registry.
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learngraph_operations_total",
			Help: "Total number of engine operations by type and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learngraph_operation_duration_seconds",
			Help:    "Duration of engine operations by type",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learngraph_events_total",
			Help: "Ingested events by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learngraph_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	storageCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "learngraph_storage_count",
			Help: "Current count of stored rows by type",
		},
		[]string{"type"},
	)

	// Edges are only decayed, archived or repaired lazily on read.
	edgeMaintenance := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learngraph_edge_maintenance_total",
			Help: "Edges decayed, archived or repaired during graph reads",
		},
		[]string{"action"},
	)

	registry.MustRegister(operationsTotal, operationDuration, eventsTotal, errorsTotal, storageCount, edgeMaintenance)

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		eventsTotal:       eventsTotal,
		errorsTotal:       errorsTotal,
		storageCount:      storageCount,
		edgeMaintenance:   edgeMaintenance,
		registry:          registry,
	}
}

// RecordOperation records a completed operation and its duration.
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

// RecordEvent counts one ingested event.
func (m *MetricsCollector) RecordEvent(ctx context.Context, eventType string, outcome string) {
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetStorageCount sets the current count for a storage type
func (m *MetricsCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
	m.storageCount.WithLabelValues(storageType).Set(float64(count))
}

// RecordEdgeMaintenance adds count to the action's counter. Zero counts
// create no series.
func (m *MetricsCollector) RecordEdgeMaintenance(ctx context.Context, action string, count int) {
	if count <= 0 {
		return
	}
	m.edgeMaintenance.WithLabelValues(action).Add(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
