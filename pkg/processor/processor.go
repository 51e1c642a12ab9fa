// Package processor is the single mutation entry point of the knowledge
// graph. Each event is decoded at the boundary, appended to the event log and
// applied to the entity and edge stores inside one transaction.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/graph"
	"github.com/dan-solli/learngraph/pkg/store"
)

// Config holds the co-occurrence and linking tunables.
type Config struct {
	// OpenWindow is how far back TOPIC_OPENED events count as co-studied.
	OpenWindow time.Duration
	// OpenBump is the co-study weight added per co-opened topic.
	OpenBump float64
	// QuizBump is the co-study weight added per topic quizzed the same day.
	QuizBump float64
	// LensBump is the weight added by an explicit lens link.
	LensBump float64
	// Location defines the calendar day for quiz co-study. Defaults to UTC.
	Location *time.Location
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		OpenWindow: 30 * time.Minute,
		OpenBump:   0.03,
		QuizBump:   0.02,
		LensBump:   0.2,
		Location:   time.UTC,
	}
}

// Result describes what one processed event did.
type Result struct {
	EventID string
	Type    string

	// NoOp is set when the event referenced nothing that exists, or carried
	// too little to act on. The event is still logged.
	NoOp   bool
	Reason string

	// PayloadErr lists fields that were replaced by defaults. Informational.
	PayloadErr error
}

// Processor applies graph events.
type Processor struct {
	store   *store.SQLiteStore
	graph   *graph.Graph
	decoder *events.Decoder
	cfg     Config
	logger  *slog.Logger

	// Serializes read-modify-write stat updates across callers.
	mu sync.Mutex
}

// New creates a Processor. Zero-valued Config fields take their defaults.
func New(st *store.SQLiteStore, g *graph.Graph, dec *events.Decoder, cfg Config) *Processor {
	def := DefaultConfig()
	if cfg.OpenWindow <= 0 {
		cfg.OpenWindow = def.OpenWindow
	}
	if cfg.OpenBump == 0 {
		cfg.OpenBump = def.OpenBump
	}
	if cfg.QuizBump == 0 {
		cfg.QuizBump = def.QuizBump
	}
	if cfg.LensBump == 0 {
		cfg.LensBump = def.LensBump
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Processor{
		store:   st,
		graph:   g,
		decoder: dec,
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the logger. A nil logger discards output.
func (p *Processor) WithLogger(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p.logger = logger
	return p
}

// Process decodes and applies one event. Malformed payloads never fail: the
// defaults applied are reported in Result.PayloadErr. A returned error means
// storage failed and nothing was committed.
func (p *Processor) Process(ctx context.Context, eventType string, payload []byte) (*Result, error) {
	ev, stored, perr := p.decoder.DecodeGraph(eventType, payload)
	if perr != nil {
		p.logger.Warn("payload defaults applied", "type", eventType, "error", perr)
	}
	res, err := p.Apply(ctx, ev, stored)
	if err != nil {
		return nil, err
	}
	res.PayloadErr = perr
	return res, nil
}

// Apply logs and applies an already decoded event. stored is the payload
// JSON written to the event log.
func (p *Processor) Apply(ctx context.Context, ev events.Event, stored string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &Result{EventID: uuid.New().String(), Type: ev.EventType()}
	err := p.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.AppendGraphEvent(ctx, &store.GraphEvent{
			ID:         res.EventID,
			Type:       ev.EventType(),
			TopicLabel: events.TopicLabelOf(ev),
			Payload:    stored,
			CreatedAt:  p.graph.Now(),
		}); err != nil {
			return err
		}
		return p.dispatch(ctx, tx, ev, res)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process %s event: %w", ev.EventType(), err)
	}

	p.logger.Debug("event processed", "id", res.EventID, "type", res.Type, "noop", res.NoOp, "reason", res.Reason)
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, tx *store.Tx, ev events.Event, res *Result) error {
	var (
		changed bool
		err     error
	)
	switch e := ev.(type) {
	case events.Activity:
		return p.applyActivity(ctx, tx, e, res)
	case events.Rename:
		changed, err = p.graph.RenameTopic(ctx, tx, e.OldLabel, e.NewLabel)
	case events.Merge:
		changed, err = p.graph.MergeTopic(ctx, tx, e.FromLabel, e.IntoLabel)
	case events.ArchiveTopic:
		changed, err = p.archiveTopic(ctx, tx, e.TopicLabel)
	case events.ArchiveConcept:
		changed, err = p.archiveConcept(ctx, tx, e.ConceptLabel)
	case events.CreateConcept:
		return p.createConcept(ctx, tx, e, res)
	case events.ArchiveEdge:
		changed, err = p.archiveEdge(ctx, tx, e)
	case events.LensLink:
		return p.linkLens(ctx, tx, e, res)
	case events.Unrecognized:
		p.logger.Warn("unrecognized event type", "type", e.Type)
		res.NoOp, res.Reason = true, "unrecognized event type"
		return nil
	default:
		return fmt.Errorf("unhandled event variant %T", ev)
	}
	if err != nil {
		return err
	}
	if !changed {
		res.NoOp, res.Reason = true, "target not found"
	}
	return nil
}

func (p *Processor) applyActivity(ctx context.Context, tx *store.Tx, a events.Activity, res *Result) error {
	now := p.graph.Now()

	if a.TopicLabel == "" {
		if a.ConceptLabel == "" || a.TopicID == "" {
			res.NoOp, res.Reason = true, "activity names no topic"
			return nil
		}
		return p.applyConceptOnly(ctx, tx, a, now, res)
	}

	topic, err := p.graph.EnsureTopic(ctx, tx, a.TopicLabel)
	if err != nil {
		return err
	}

	if a.ConceptLabel == "" {
		if err := p.updateStats(ctx, tx, store.EntityTopic, topic.ID, a, now); err != nil {
			return err
		}
	} else {
		nudge := a
		d := touchDelta
		nudge.ForceDelta = &d
		if err := p.updateStats(ctx, tx, store.EntityTopic, topic.ID, nudge, now); err != nil {
			return err
		}
		concept, err := p.graph.EnsureConcept(ctx, tx, topic.ID, a.ConceptLabel)
		if err != nil {
			return err
		}
		if err := p.graph.EnsureParentEdge(ctx, tx, topic.ID, concept.ID); err != nil {
			return err
		}
		if err := p.updateStats(ctx, tx, store.EntityConcept, concept.ID, a, now); err != nil {
			return err
		}
	}

	return p.inferCoStudy(ctx, tx, topic.ID, a.Type, now)
}

// applyConceptOnly handles activity addressed by parent topic id and concept
// label. Only the concept's stats move.
func (p *Processor) applyConceptOnly(ctx context.Context, tx *store.Tx, a events.Activity, now time.Time, res *Result) error {
	if _, err := tx.TopicByID(ctx, a.TopicID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.NoOp, res.Reason = true, "parent topic not found"
			return nil
		}
		return err
	}
	concept, err := p.graph.EnsureConcept(ctx, tx, a.TopicID, a.ConceptLabel)
	if err != nil {
		return err
	}
	if err := p.graph.EnsureParentEdge(ctx, tx, a.TopicID, concept.ID); err != nil {
		return err
	}
	return p.updateStats(ctx, tx, store.EntityConcept, concept.ID, a, now)
}

func (p *Processor) updateStats(ctx context.Context, tx *store.Tx, kind store.EntityType, id string, a events.Activity, now time.Time) error {
	s, err := p.graph.Stats(ctx, tx, kind, id)
	if err != nil {
		return err
	}
	next := ApplyActivity(*s, a, now)
	if err := tx.PutStats(ctx, &next); err != nil {
		return err
	}
	p.logger.Debug("stats updated", "kind", kind, "id", id, "type", a.Type,
		"strength_before", s.Strength, "strength_after", next.Strength)
	return nil
}

func (p *Processor) archiveTopic(ctx context.Context, tx *store.Tx, label string) (bool, error) {
	topic, err := p.graph.FindTopic(ctx, tx, label)
	if err != nil || topic == nil {
		return false, err
	}
	return p.graph.ArchiveTopic(ctx, tx, topic.ID)
}

func (p *Processor) archiveConcept(ctx context.Context, tx *store.Tx, label string) (bool, error) {
	c, err := p.graph.FindConcept(ctx, tx, label)
	if err != nil || c == nil {
		return false, err
	}
	return p.graph.ArchiveConcept(ctx, tx, c.ID)
}

func (p *Processor) createConcept(ctx context.Context, tx *store.Tx, e events.CreateConcept, res *Result) error {
	if e.TopicLabel == "" || e.ConceptLabel == "" {
		res.NoOp, res.Reason = true, "concept creation needs topic and concept labels"
		return nil
	}
	topic, err := p.graph.EnsureTopic(ctx, tx, e.TopicLabel)
	if err != nil {
		return err
	}
	c, err := p.graph.EnsureConcept(ctx, tx, topic.ID, e.ConceptLabel)
	if err != nil {
		return err
	}
	return p.graph.EnsureParentEdge(ctx, tx, topic.ID, c.ID)
}

// findEndpoint resolves an endpoint to an existing entity without creating it.
func (p *Processor) findEndpoint(ctx context.Context, tx *store.Tx, ep events.Endpoint) (graph.Ref, bool, error) {
	if ep.Type == string(store.EntityConcept) {
		c, err := p.graph.FindConcept(ctx, tx, ep.Label)
		if err != nil || c == nil {
			return graph.Ref{}, false, err
		}
		return graph.Ref{ID: c.ID, Type: store.EntityConcept}, true, nil
	}
	t, err := p.graph.FindTopic(ctx, tx, ep.Label)
	if err != nil || t == nil {
		return graph.Ref{}, false, err
	}
	return graph.Ref{ID: t.ID, Type: store.EntityTopic}, true, nil
}

func (p *Processor) archiveEdge(ctx context.Context, tx *store.Tx, e events.ArchiveEdge) (bool, error) {
	from, ok, err := p.findEndpoint(ctx, tx, e.From)
	if err != nil || !ok {
		return false, err
	}
	to, ok, err := p.findEndpoint(ctx, tx, e.To)
	if err != nil || !ok {
		return false, err
	}
	return p.graph.ArchiveEdge(ctx, tx, from, to)
}

// parentTopic resolves the owning topic of a concept endpoint: an explicit
// id must exist, a label is ensured.
func (p *Processor) parentTopic(ctx context.Context, tx *store.Tx, ep events.Endpoint) (string, error) {
	if ep.TopicID != "" {
		t, err := tx.TopicByID(ctx, ep.TopicID)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return t.ID, nil
	}
	if ep.TopicLabel == "" {
		return "", nil
	}
	t, err := p.graph.EnsureTopic(ctx, tx, ep.TopicLabel)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// ensureEndpoint creates the endpoint if needed. Concept endpoints also get
// their belongs_to edge. ok is false when a concept has no resolvable parent.
func (p *Processor) ensureEndpoint(ctx context.Context, tx *store.Tx, ep events.Endpoint) (graph.Ref, bool, error) {
	if ep.Type != string(store.EntityConcept) {
		t, err := p.graph.EnsureTopic(ctx, tx, ep.Label)
		if err != nil {
			return graph.Ref{}, false, err
		}
		return graph.Ref{ID: t.ID, Type: store.EntityTopic}, true, nil
	}

	topicID, err := p.parentTopic(ctx, tx, ep)
	if err != nil || topicID == "" {
		return graph.Ref{}, false, err
	}
	c, err := p.graph.EnsureConcept(ctx, tx, topicID, ep.Label)
	if err != nil {
		return graph.Ref{}, false, err
	}
	if err := p.graph.EnsureParentEdge(ctx, tx, c.TopicID, c.ID); err != nil {
		return graph.Ref{}, false, err
	}
	return graph.Ref{ID: c.ID, Type: store.EntityConcept}, true, nil
}

func (p *Processor) linkLens(ctx context.Context, tx *store.Tx, e events.LensLink, res *Result) error {
	if e.From.Label == "" || e.To.Label == "" {
		res.NoOp, res.Reason = true, "lens link needs both endpoint labels"
		return nil
	}
	from, ok, err := p.ensureEndpoint(ctx, tx, e.From)
	if err != nil {
		return err
	}
	if !ok {
		res.NoOp, res.Reason = true, "missing parent topic for concept link"
		return nil
	}
	to, ok, err := p.ensureEndpoint(ctx, tx, e.To)
	if err != nil {
		return err
	}
	if !ok {
		res.NoOp, res.Reason = true, "missing parent topic for concept link"
		return nil
	}

	id, err := p.graph.UpsertEdge(ctx, tx, from, to, e.Reason(), p.cfg.LensBump)
	if err != nil {
		return err
	}
	if id == "" {
		res.NoOp, res.Reason = true, "lens link endpoints are the same entity"
		return nil
	}
	p.logger.Info("lens link created", "edge", id, "reason", e.Reason())
	return nil
}
