// Package trace exports per-operation trace records. The JSON-lines file
// exporter is compiled in with the "tracing" build tag; otherwise every
// exporter is a no-op.
package trace

import (
	"context"
	"time"
)

// Exporter writes trace records. Implementations must be safe for
// concurrent use.
type Exporter interface {
	Export(ctx context.Context, record *TraceRecord) error
	// Close flushes buffered records and releases the destination.
	Close() error
}

// TraceRecord is one finished engine operation. It carries ids and counts
// only, never labels or payload content.
type TraceRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	OperationID string    `json:"operationId"`
	// Operation is one of process_event, record_interaction,
	// record_quiz_attempt, read_graph, update_concept_state.
	Operation  string       `json:"operation"`
	DurationMs int64        `json:"durationMs"`
	Status     string       `json:"status"`
	Spans      []SpanRecord `json:"spans"`
	// ErrorType is set when Status is "error": database, validation,
	// timeout, canceled or unknown.
	ErrorType string            `json:"errorType,omitempty"`
	IDs       map[string]string `json:"ids,omitempty"`
}

// SpanRecord is one stage within an operation.
type SpanRecord struct {
	// Name is the stage: decode, apply, recompute, decay.
	Name       string           `json:"name"`
	DurationMs int64            `json:"durationMs"`
	OK         bool             `json:"ok"`
	ErrorType  string           `json:"errorType,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}

// FileExporterOption configures a FileExporter. It exists in both builds so
// callers compile either way.
type FileExporterOption func(any)
