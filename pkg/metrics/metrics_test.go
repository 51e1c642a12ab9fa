package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ Collector = (*MetricsCollector)(nil)
	_ Collector = (*NoopCollector)(nil)
)

func TestMetricsCollector_RecordOperation(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, "process_event", "success", 4)
	collector.RecordOperation(ctx, "process_event", "success", 6)
	collector.RecordOperation(ctx, "process_event", "error", 2)
	collector.RecordOperation(ctx, "read_graph", "success", 20)

	if got := testutil.CollectAndCount(collector.operationsTotal); got != 3 {
		t.Errorf("expected 3 metric series, got %d", got)
	}

	if got := testutil.ToFloat64(collector.operationsTotal.WithLabelValues("process_event", "success")); got != 2 {
		t.Errorf("expected 2 process_event/success operations, got %f", got)
	}

	if got := testutil.CollectAndCount(collector.operationDuration); got != 2 {
		t.Errorf("expected 2 histogram series, got %d", got)
	}
}

func TestMetricsCollector_RecordEvent(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordEvent(ctx, "TOPIC_OPENED", OutcomeApplied)
	collector.RecordEvent(ctx, "TOPIC_OPENED", OutcomeApplied)
	collector.RecordEvent(ctx, "TOPIC_ARCHIVED", OutcomeNoop)

	if got := testutil.ToFloat64(collector.eventsTotal.WithLabelValues("TOPIC_OPENED", OutcomeApplied)); got != 2 {
		t.Errorf("expected 2 applied TOPIC_OPENED events, got %f", got)
	}
	if got := testutil.ToFloat64(collector.eventsTotal.WithLabelValues("TOPIC_ARCHIVED", OutcomeNoop)); got != 1 {
		t.Errorf("expected 1 no-op TOPIC_ARCHIVED event, got %f", got)
	}
}

func TestMetricsCollector_RecordError(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordError(ctx, "process_event", "validation")
	collector.RecordError(ctx, "process_event", "validation")
	collector.RecordError(ctx, "record_interaction", "database")

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("process_event", "validation")); got != 2 {
		t.Errorf("expected 2 validation errors, got %f", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("record_interaction", "database")); got != 1 {
		t.Errorf("expected 1 database error, got %f", got)
	}
}

func TestMetricsCollector_SetStorageCount(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.SetStorageCount(ctx, "topics", 42)
	collector.SetStorageCount(ctx, "edges", 300)

	if got := testutil.ToFloat64(collector.storageCount.WithLabelValues("topics")); got != 42 {
		t.Errorf("expected 42 topics, got %f", got)
	}

	collector.SetStorageCount(ctx, "topics", 50)
	if got := testutil.ToFloat64(collector.storageCount.WithLabelValues("topics")); got != 50 {
		t.Errorf("expected 50 topics after update, got %f", got)
	}
}

func TestMetricsCollector_RecordEdgeMaintenance(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordEdgeMaintenance(ctx, EdgeDecayed, 3)
	collector.RecordEdgeMaintenance(ctx, EdgeDecayed, 2)
	collector.RecordEdgeMaintenance(ctx, EdgeArchived, 0)

	if got := testutil.ToFloat64(collector.edgeMaintenance.WithLabelValues(EdgeDecayed)); got != 5 {
		t.Errorf("expected 5 decayed edges, got %f", got)
	}
	if got := testutil.CollectAndCount(collector.edgeMaintenance); got != 1 {
		t.Errorf("expected zero counts to create no series, got %d series", got)
	}
}

func TestMetricsCollector_Registry(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, "test", "success", 100)
	collector.RecordEvent(ctx, "QUIZ_SUBMITTED", OutcomeApplied)
	collector.RecordError(ctx, "test", "unknown")
	collector.SetStorageCount(ctx, "concepts", 10)

	metricFamilies, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if len(metricFamilies) != 5 {
		t.Errorf("expected 5 metric families, got %d", len(metricFamilies))
	}
}

// Label values must never carry learner identifiers or labels.
func TestMetricsCollector_NoLearnerData(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, "record_interaction", "success", 3)
	collector.RecordEvent(ctx, "ANSWER_SUBMITTED", OutcomeSkipped)

	metricFamilies, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	forbidden := []string{"u1", "user", "Derivatives", "q7"}
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				for _, term := range forbidden {
					if label.GetValue() == term {
						t.Errorf("found forbidden value %q in metric label", term)
					}
				}
			}
		}
	}
}
