// Package learngraph is the entry point to the knowledge graph and learner
// mastery engine. An Engine owns the store and wires the event processor,
// learner state, cognitive fingerprint, metrics, tracing and change
// notifications together.
package learngraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/fingerprint"
	"github.com/dan-solli/learngraph/pkg/graph"
	"github.com/dan-solli/learngraph/pkg/learner"
	"github.com/dan-solli/learngraph/pkg/metrics"
	"github.com/dan-solli/learngraph/pkg/notify"
	"github.com/dan-solli/learngraph/pkg/processor"
	"github.com/dan-solli/learngraph/pkg/store"
	"github.com/dan-solli/learngraph/pkg/trace"
)

// Operation names used for metrics and traces.
const (
	OpProcessEvent       = "process_event"
	OpRecordInteraction  = "record_interaction"
	OpRecordQuizAttempt  = "record_quiz_attempt"
	OpUpdateConceptState = "update_concept_state"
	OpReadGraph          = "read_graph"
	OpFingerprintSummary = "fingerprint_summary"
	OpDeleteFingerprint  = "delete_fingerprint"
	OpLaggingConcepts    = "lagging_concepts"
)

// Config holds the engine's collaborators and tunables.
type Config struct {
	// DBPath is a SQLite file path or ":memory:".
	DBPath string

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Location defines the calendar day for quiz co-study. Overrides
	// Processor.Location when set.
	Location *time.Location

	Processor   processor.Config
	EdgePolicy  decay.EdgePolicy
	Fingerprint fingerprint.Config

	// Optional. Nil means no-op.
	Metrics   metrics.Collector
	Tracer    trace.Exporter
	Publisher notify.Publisher
}

// Engine is the learngraph facade. It is safe for concurrent use.
type Engine struct {
	store       *store.SQLiteStore
	graph       *graph.Graph
	processor   *processor.Processor
	learner     *learner.Engine
	fingerprint *fingerprint.Engine

	metrics   metrics.Collector
	tracer    trace.Exporter
	publisher notify.Publisher

	now    func() time.Time
	logger *slog.Logger
}

// Open opens the store and wires every component.
func Open(cfg Config) (*Engine, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopCollector()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = &trace.NoopExporter{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.Noop{}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	dec, err := events.NewDecoder()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build event decoder: %w", err)
	}

	pcfg := cfg.Processor
	if cfg.Location != nil {
		pcfg.Location = cfg.Location
	}
	fcfg := cfg.Fingerprint
	fcfg.Clock = cfg.Clock

	g := graph.New(graph.Config{Clock: cfg.Clock, EdgePolicy: cfg.EdgePolicy})
	fp, err := fingerprint.New(st, dec, fcfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	e := &Engine{
		store:       st,
		graph:       g,
		processor:   processor.New(st, g, dec, pcfg),
		learner:     learner.New(st, cfg.Clock),
		fingerprint: fp,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		publisher:   cfg.Publisher,
		now:         cfg.Clock,
	}
	e.WithLogger(nil)
	return e, nil
}

// WithLogger sets the logger for the engine and every component. A nil
// logger discards output.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger
	e.graph.WithLogger(logger.With("component", "graph"))
	e.processor.WithLogger(logger.With("component", "processor"))
	e.learner.WithLogger(logger.With("component", "learner"))
	e.fingerprint.WithLogger(logger.With("component", "fingerprint"))
	return e
}

// Close releases the store, tracer and publisher.
func (e *Engine) Close() error {
	return errors.Join(
		e.publisher.Close(),
		e.tracer.Close(),
		e.store.Close(),
	)
}

// observe runs fn as one traced, measured operation.
func (e *Engine) observe(ctx context.Context, op string, ids map[string]string, fn func(ot *opTrace) error) error {
	ot := newOpTrace()
	start := time.Now()
	err := fn(ot)
	durationMs := time.Since(start).Milliseconds()

	status := "success"
	errType := ""
	if err != nil {
		status = "error"
		errType = ClassifyError(err)
		e.metrics.RecordError(ctx, op, errType)
		e.logger.Error("operation failed", "operation", op, "error_type", errType, "error", err)
	}
	e.metrics.RecordOperation(ctx, op, status, durationMs)

	rec := &trace.TraceRecord{
		Timestamp:   start.UTC(),
		OperationID: uuid.New().String(),
		Operation:   op,
		DurationMs:  durationMs,
		Status:      status,
		Spans:       ot.spans,
		ErrorType:   errType,
		IDs:         ids,
	}
	if xerr := e.tracer.Export(ctx, rec); xerr != nil {
		e.logger.Warn("trace export failed", "operation", op, "error", xerr)
	}
	return err
}

// publish sends a change after commit. Delivery failures are logged; the
// write has already happened.
func (e *Engine) publish(ctx context.Context, c notify.Change) {
	c.At = e.now().UTC()
	if err := e.publisher.Publish(ctx, c); err != nil {
		e.logger.Warn("change notification failed", "kind", c.Kind, "error", err)
	}
}

// eventLabel bounds metric label cardinality to the known event types.
func eventLabel(eventType string) string {
	if events.Known(eventType) {
		return eventType
	}
	return "unrecognized"
}

// ProcessEvent decodes, logs and applies one graph event.
func (e *Engine) ProcessEvent(ctx context.Context, eventType string, payload []byte) (*processor.Result, error) {
	var res *processor.Result
	err := e.observe(ctx, OpProcessEvent, map[string]string{"eventType": eventLabel(eventType)}, func(ot *opTrace) error {
		sp := ot.span(spanApply)
		r, err := e.processor.Process(ctx, eventType, payload)
		sp.finish(err, nil)
		res = r
		return err
	})
	label := eventLabel(eventType)
	if err != nil {
		e.metrics.RecordEvent(ctx, label, metrics.OutcomeFailed)
		return nil, err
	}

	if res.PayloadErr != nil {
		e.metrics.RecordError(ctx, OpProcessEvent, ErrTypeValidation)
	}
	if res.NoOp {
		e.metrics.RecordEvent(ctx, label, metrics.OutcomeNoop)
		return res, nil
	}
	e.metrics.RecordEvent(ctx, label, metrics.OutcomeApplied)
	e.publish(ctx, notify.Change{Kind: notify.KindGraph, EventType: res.Type, EventID: res.EventID})
	return res, nil
}

// ReadGraph returns the read model, applying lazy edge decay.
func (e *Engine) ReadGraph(ctx context.Context) (*graph.Snapshot, error) {
	var snap *graph.Snapshot
	err := e.observe(ctx, OpReadGraph, nil, func(ot *opTrace) error {
		sp := ot.span(spanDecay)
		var rs graph.ReadStats
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			snap, rs, err = e.graph.ReadGraph(ctx, tx)
			return err
		})
		sp.finish(err, map[string]int64{
			"parentEdgesRepaired": int64(rs.ParentEdgesRepaired),
			"edgesDecayed":        int64(rs.EdgesDecayed),
			"edgesArchived":       int64(rs.EdgesArchived),
		})
		if err != nil {
			return fmt.Errorf("failed to read graph: %w", err)
		}
		e.metrics.RecordEdgeMaintenance(ctx, metrics.EdgeDecayed, rs.EdgesDecayed)
		e.metrics.RecordEdgeMaintenance(ctx, metrics.EdgeArchived, rs.EdgesArchived)
		e.metrics.RecordEdgeMaintenance(ctx, metrics.EdgeRepaired, rs.ParentEdgesRepaired)
		if rs.EdgesArchived > 0 || rs.ParentEdgesRepaired > 0 {
			e.logger.Info("graph read repaired edges",
				"archived", rs.EdgesArchived, "repaired", rs.ParentEdgesRepaired)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// RecordInteraction logs a cognitive interaction and recomputes the
// learner's fingerprint.
func (e *Engine) RecordInteraction(ctx context.Context, in events.Interaction) (*fingerprint.RecordResult, error) {
	var res *fingerprint.RecordResult
	err := e.observe(ctx, OpRecordInteraction, map[string]string{"userId": in.UserID}, func(ot *opTrace) error {
		sp := ot.span(spanRecompute)
		r, err := e.fingerprint.Record(ctx, in)
		sp.finish(err, nil)
		res = r
		return err
	})
	if err != nil {
		e.metrics.RecordEvent(ctx, "cognitive", metrics.OutcomeFailed)
		return nil, err
	}

	if res.PayloadErr != nil {
		e.metrics.RecordError(ctx, OpRecordInteraction, ErrTypeValidation)
	}
	if res.Skipped {
		e.metrics.RecordEvent(ctx, "cognitive", metrics.OutcomeSkipped)
		e.logger.Warn("interaction skipped, fingerprint disabled", "user", in.UserID)
		return res, nil
	}
	e.metrics.RecordEvent(ctx, "cognitive", metrics.OutcomeApplied)
	e.publish(ctx, notify.Change{Kind: notify.KindFingerprint, EventType: in.Type, EventID: res.ID, UserID: in.UserID})
	return res, nil
}

// FingerprintSummary returns the learner's fingerprint summary.
func (e *Engine) FingerprintSummary(ctx context.Context, userID string) (*fingerprint.Summary, error) {
	var s *fingerprint.Summary
	err := e.observe(ctx, OpFingerprintSummary, map[string]string{"userId": userID}, func(ot *opTrace) error {
		sp := ot.span(spanQuery)
		var err error
		s, err = e.fingerprint.Summary(ctx, userID)
		sp.finish(err, nil)
		return err
	})
	return s, err
}

// ConceptBreakdown returns the learner's per-concept fingerprint rows.
func (e *Engine) ConceptBreakdown(ctx context.Context, userID string) ([]fingerprint.ConceptBreakdown, error) {
	return e.fingerprint.Breakdown(ctx, userID)
}

// PersonalizationPlan returns tutoring directives for the learner.
func (e *Engine) PersonalizationPlan(ctx context.Context, userID string, pc fingerprint.PlanContext) (fingerprint.Plan, error) {
	return e.fingerprint.Plan(ctx, userID, pc)
}

// DeleteFingerprint purges the learner's interactions and fingerprint and
// disables further recording.
func (e *Engine) DeleteFingerprint(ctx context.Context, userID string) error {
	err := e.observe(ctx, OpDeleteFingerprint, map[string]string{"userId": userID}, func(ot *opTrace) error {
		sp := ot.span(spanApply)
		err := e.fingerprint.Delete(ctx, userID)
		sp.finish(err, nil)
		return err
	})
	if err != nil {
		return err
	}
	e.publish(ctx, notify.Change{Kind: notify.KindFingerprint, EventType: "FINGERPRINT_DELETED", UserID: userID})
	return nil
}

// EnableFingerprint turns recording back on after a delete.
func (e *Engine) EnableFingerprint(ctx context.Context, userID string) error {
	return e.fingerprint.Enable(ctx, userID)
}

// UpdateConceptState applies one attempt to a learner's concept state.
func (e *Engine) UpdateConceptState(ctx context.Context, a learner.Attempt) (*learner.Update, error) {
	var u *learner.Update
	err := e.observe(ctx, OpUpdateConceptState, map[string]string{"userId": a.UserID, "conceptId": a.ConceptID}, func(ot *opTrace) error {
		sp := ot.span(spanApply)
		var err error
		u, err = e.learner.UpdateConceptState(ctx, a)
		sp.finish(err, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, notify.Change{Kind: notify.KindLearner, EventType: "CONCEPT_STATE_UPDATED", UserID: a.UserID})
	return u, nil
}

// RecordQuizAttempt logs a scored quiz and updates every concept it touched.
func (e *Engine) RecordQuizAttempt(ctx context.Context, sub learner.QuizSubmission) ([]learner.Update, error) {
	var ups []learner.Update
	err := e.observe(ctx, OpRecordQuizAttempt, map[string]string{"userId": sub.UserID}, func(ot *opTrace) error {
		sp := ot.span(spanApply)
		var err error
		ups, err = e.learner.RecordQuizAttempt(ctx, sub)
		sp.finish(err, map[string]int64{
			"questions": int64(len(sub.Questions)),
			"updates":   int64(len(ups)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, notify.Change{Kind: notify.KindLearner, EventType: "QUIZ_ATTEMPT", UserID: sub.UserID})
	return ups, nil
}

// LaggingConcepts ranks the learner's concepts by review priority.
func (e *Engine) LaggingConcepts(ctx context.Context, userID, courseID string) ([]learner.LaggingConcept, error) {
	var out []learner.LaggingConcept
	err := e.observe(ctx, OpLaggingConcepts, map[string]string{"userId": userID}, func(ot *opTrace) error {
		sp := ot.span(spanQuery)
		var err error
		out, err = e.learner.LaggingConcepts(ctx, userID, courseID)
		sp.finish(err, map[string]int64{"results": int64(len(out))})
		return err
	})
	return out, err
}

// DeclarePrerequisite records that prereqID should be mastered before
// conceptID.
func (e *Engine) DeclarePrerequisite(ctx context.Context, conceptID, prereqID string) error {
	return e.learner.DeclarePrerequisite(ctx, conceptID, prereqID)
}

// AssignConceptToCourse maps a concept into a course.
func (e *Engine) AssignConceptToCourse(ctx context.Context, courseID, conceptID string, importance float64) error {
	return e.learner.AssignConceptToCourse(ctx, courseID, conceptID, importance)
}

// Stats returns live row counts and refreshes the storage gauges.
func (e *Engine) Stats(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		c, err = tx.Counts(ctx)
		return err
	})
	if err != nil {
		return store.Counts{}, fmt.Errorf("failed to count rows: %w", err)
	}

	e.metrics.SetStorageCount(ctx, "topics", c.Topics)
	e.metrics.SetStorageCount(ctx, "concepts", c.Concepts)
	e.metrics.SetStorageCount(ctx, "edges", c.Edges)
	e.metrics.SetStorageCount(ctx, "graph_events", c.GraphEvents)
	e.metrics.SetStorageCount(ctx, "cognitive_events", c.CognitiveEvents)
	return c, nil
}
