// Package graph maintains the knowledge graph: topics, concepts, their
// familiarity stats and the weighted edges between them.
//
// Every method runs inside a caller-supplied store transaction so that one
// activity event, with all of its entity and edge mutations, commits or
// rolls back as a unit.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/store"
)

// InitialStrength is the familiarity a newly ensured entity starts with.
const InitialStrength = 0.25

// Config holds the graph's tunables.
type Config struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// EdgePolicy controls lazy structural decay on read.
	// The zero value means decay.DefaultEdgePolicy.
	EdgePolicy decay.EdgePolicy
}

// Graph implements the entity and edge stores over pkg/store.
type Graph struct {
	now    func() time.Time
	policy decay.EdgePolicy
	logger *slog.Logger
}

// New creates a Graph.
func New(cfg Config) *Graph {
	g := &Graph{
		now:    cfg.Clock,
		policy: cfg.EdgePolicy,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.policy == (decay.EdgePolicy{}) {
		g.policy = decay.DefaultEdgePolicy
	}
	return g
}

// WithLogger sets the logger. A nil logger discards output.
func (g *Graph) WithLogger(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g.logger = logger
	return g
}

// Now returns the graph clock's current time in UTC.
func (g *Graph) Now() time.Time {
	return g.now().UTC()
}

// defaultStats is the stats row created by ensure.
func defaultStats(kind store.EntityType, id string, now time.Time) *store.Stats {
	return &store.Stats{
		EntityType:   kind,
		EntityID:     id,
		Strength:     InitialStrength,
		Exposures:    1,
		LastSeenAt:   now,
		NextReviewAt: decay.NextReviewAt(kind, InitialStrength, now),
	}
}

func (g *Graph) ensureStats(ctx context.Context, tx *store.Tx, kind store.EntityType, id string, now time.Time) error {
	n, err := tx.CountStats(ctx, kind, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return tx.PutStats(ctx, defaultStats(kind, id, now))
}

// Stats returns the entity's stats, or a zero-exposure row at the initial
// strength when none exists yet.
func (g *Graph) Stats(ctx context.Context, tx *store.Tx, kind store.EntityType, id string) (*store.Stats, error) {
	s, err := tx.GetStats(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		now := g.Now()
		return &store.Stats{
			EntityType:   kind,
			EntityID:     id,
			Strength:     InitialStrength,
			LastSeenAt:   now,
			NextReviewAt: decay.NextReviewAt(kind, InitialStrength, now),
		}, nil
	}
	return s, err
}

// EnsureTopic resolves label to a live topic, creating it and its stats row
// on first use. Repeated calls with equivalent labels return the same topic.
func (g *Graph) EnsureTopic(ctx context.Context, tx *store.Tx, label string) (*store.Topic, error) {
	n := Normalize(label)
	now := g.Now()

	topic, err := tx.TopicBySlug(ctx, n.Slug)
	switch {
	case err == nil:
		if topic.IsArchived || topic.Label != n.Label {
			topic.IsArchived = false
			topic.Label = n.Label
			topic.UpdatedAt = now
			if err := tx.UpdateTopic(ctx, topic); err != nil {
				return nil, err
			}
		}
	case errors.Is(err, store.ErrNotFound):
		topic = &store.Topic{
			ID:        uuid.New().String(),
			Label:     n.Label,
			Slug:      n.Slug,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertTopic(ctx, topic); err != nil {
			return nil, err
		}
		g.logger.Debug("topic created", "id", topic.ID, "slug", topic.Slug)
	default:
		return nil, err
	}

	if err := g.ensureStats(ctx, tx, store.EntityTopic, topic.ID, now); err != nil {
		return nil, fmt.Errorf("failed to ensure topic stats: %w", err)
	}
	return topic, nil
}

// EnsureConcept resolves label to a live concept owned by topicID. An
// existing concept is moved to topicID if it belonged elsewhere.
func (g *Graph) EnsureConcept(ctx context.Context, tx *store.Tx, topicID, label string) (*store.Concept, error) {
	n := Normalize(label)
	now := g.Now()

	c, err := tx.ConceptBySlug(ctx, n.Slug)
	switch {
	case err == nil:
		if c.IsArchived || c.Label != n.Label || c.TopicID != topicID {
			if c.TopicID != topicID {
				if _, err := tx.ArchiveEdgesBetween(ctx, store.EntityTopic, c.TopicID, store.EntityConcept, c.ID, now); err != nil {
					return nil, fmt.Errorf("failed to detach concept from old topic: %w", err)
				}
				g.logger.Debug("concept moved", "id", c.ID, "from_topic", c.TopicID, "to_topic", topicID)
			}
			c.IsArchived = false
			c.Label = n.Label
			c.TopicID = topicID
			c.UpdatedAt = now
			if err := tx.UpdateConcept(ctx, c); err != nil {
				return nil, err
			}
		}
	case errors.Is(err, store.ErrNotFound):
		c = &store.Concept{
			ID:        uuid.New().String(),
			TopicID:   topicID,
			Label:     n.Label,
			Slug:      n.Slug,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertConcept(ctx, c); err != nil {
			return nil, err
		}
		g.logger.Debug("concept created", "id", c.ID, "slug", c.Slug, "topic_id", topicID)
	default:
		return nil, err
	}

	if err := g.ensureStats(ctx, tx, store.EntityConcept, c.ID, now); err != nil {
		return nil, fmt.Errorf("failed to ensure concept stats: %w", err)
	}
	return c, nil
}

// FindTopic resolves a label to an existing topic without creating one.
// It returns nil when no topic has that slug.
func (g *Graph) FindTopic(ctx context.Context, tx *store.Tx, label string) (*store.Topic, error) {
	t, err := tx.TopicBySlug(ctx, Normalize(label).Slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// FindConcept resolves a label to an existing concept without creating one.
func (g *Graph) FindConcept(ctx context.Context, tx *store.Tx, label string) (*store.Concept, error) {
	c, err := tx.ConceptBySlug(ctx, Normalize(label).Slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// ArchiveTopic archives a topic and every edge touching it. A missing topic
// is not an error; the boolean reports whether anything changed.
func (g *Graph) ArchiveTopic(ctx context.Context, tx *store.Tx, id string) (bool, error) {
	topic, err := tx.TopicByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.archiveTopic(ctx, tx, topic)
}

func (g *Graph) archiveTopic(ctx context.Context, tx *store.Tx, topic *store.Topic) (bool, error) {
	now := g.Now()
	topic.IsArchived = true
	topic.UpdatedAt = now
	if err := tx.UpdateTopic(ctx, topic); err != nil {
		return false, err
	}
	n, err := tx.ArchiveEdgesTouching(ctx, store.EntityTopic, topic.ID, now)
	if err != nil {
		return false, err
	}
	g.logger.Info("topic archived", "id", topic.ID, "slug", topic.Slug, "edges_archived", n)
	return true, nil
}

// ArchiveConcept archives a concept and every edge touching it.
func (g *Graph) ArchiveConcept(ctx context.Context, tx *store.Tx, id string) (bool, error) {
	c, err := tx.ConceptByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := g.Now()
	c.IsArchived = true
	c.UpdatedAt = now
	if err := tx.UpdateConcept(ctx, c); err != nil {
		return false, err
	}
	n, err := tx.ArchiveEdgesTouching(ctx, store.EntityConcept, c.ID, now)
	if err != nil {
		return false, err
	}
	g.logger.Info("concept archived", "id", c.ID, "slug", c.Slug, "edges_archived", n)
	return true, nil
}

// RenameTopic relabels the topic found under oldLabel. If the new slug
// already belongs to a different topic the two are merged into that one,
// which is revived if archived.
func (g *Graph) RenameTopic(ctx context.Context, tx *store.Tx, oldLabel, newLabel string) (bool, error) {
	topic, err := g.FindTopic(ctx, tx, oldLabel)
	if err != nil || topic == nil {
		return false, err
	}

	to := Normalize(newLabel)
	if to.Slug != topic.Slug {
		other, err := tx.TopicBySlug(ctx, to.Slug)
		if err == nil {
			g.logger.Info("rename collides with existing topic, merging",
				"from", topic.Slug, "into", other.Slug)
			if err := g.mergeTopics(ctx, tx, topic, other); err != nil {
				return false, err
			}
			return true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}

	if topic.Label == to.Label && topic.Slug == to.Slug {
		return false, nil
	}
	g.logger.Info("topic renamed", "id", topic.ID, "from", topic.Slug, "to", to.Slug)
	topic.Label = to.Label
	topic.Slug = to.Slug
	topic.UpdatedAt = g.Now()
	if err := tx.UpdateTopic(ctx, topic); err != nil {
		return false, err
	}
	return true, nil
}

// MergeTopic folds the topic labeled fromLabel into the one labeled
// intoLabel. Missing or identical topics make this a no-op.
func (g *Graph) MergeTopic(ctx context.Context, tx *store.Tx, fromLabel, intoLabel string) (bool, error) {
	from, err := g.FindTopic(ctx, tx, fromLabel)
	if err != nil {
		return false, err
	}
	into, err := g.FindTopic(ctx, tx, intoLabel)
	if err != nil {
		return false, err
	}
	if from == nil || into == nil || from.ID == into.ID {
		return false, nil
	}
	if err := g.mergeTopics(ctx, tx, from, into); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Graph) mergeTopics(ctx context.Context, tx *store.Tx, from, into *store.Topic) error {
	now := g.Now()
	intoRef := Ref{ID: into.ID, Type: store.EntityTopic}

	// Merging into an archived topic revives it; the merged concepts need a live parent.
	if into.IsArchived {
		into.IsArchived = false
		into.UpdatedAt = now
		if err := tx.UpdateTopic(ctx, into); err != nil {
			return err
		}
		g.logger.Info("archived topic revived by merge", "id", into.ID, "slug", into.Slug)
	}

	edges, err := tx.LiveEdgesTouching(ctx, store.EntityTopic, from.ID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		other := Ref{ID: e.FromID, Type: e.FromType}
		if e.FromID == from.ID && e.FromType == store.EntityTopic {
			other = Ref{ID: e.ToID, Type: e.ToType}
		}

		if e.Reason == store.ReasonBelongsTo {
			// Hierarchy edges are rebuilt below once concepts move.
			if err := tx.ArchiveEdge(ctx, e.ID, now); err != nil {
				return err
			}
			continue
		}
		if other != intoRef {
			if _, err := g.UpsertEdge(ctx, tx, intoRef, other, e.Reason, e.Weight); err != nil {
				return err
			}
		}
		if err := tx.ArchiveEdge(ctx, e.ID, now); err != nil {
			return err
		}
	}

	moved, err := tx.ReassignConcepts(ctx, from.ID, into.ID, now)
	if err != nil {
		return err
	}
	for _, conceptID := range moved {
		c, err := tx.ConceptByID(ctx, conceptID)
		if err != nil {
			return err
		}
		if c.IsArchived {
			continue
		}
		if err := g.EnsureParentEdge(ctx, tx, into.ID, conceptID); err != nil {
			return err
		}
	}

	fromStats, err := g.Stats(ctx, tx, store.EntityTopic, from.ID)
	if err != nil {
		return err
	}
	intoStats, err := g.Stats(ctx, tx, store.EntityTopic, into.ID)
	if err != nil {
		return err
	}
	merged := MergeStats(fromStats, intoStats)
	merged.EntityID = into.ID
	if err := tx.PutStats(ctx, merged); err != nil {
		return err
	}

	if _, err := g.archiveTopic(ctx, tx, from); err != nil {
		return err
	}
	g.logger.Info("topic merged",
		"from", from.Slug, "into", into.Slug,
		"concepts_moved", len(moved), "edges_rehomed", len(edges))
	return nil
}

// MergeStats combines two stats rows. Strength is the exposure-weighted
// mean (the max when neither has exposures), counters are summed, the
// latest seen/reviewed times win and the earliest review date wins.
func MergeStats(a, b *store.Stats) *store.Stats {
	out := *b
	out.Exposures = a.Exposures + b.Exposures
	if out.Exposures > 0 {
		out.Strength = (a.Strength*float64(a.Exposures) + b.Strength*float64(b.Exposures)) / float64(out.Exposures)
	} else {
		out.Strength = max(a.Strength, b.Strength)
	}
	out.Strength = decay.Clamp01(out.Strength)

	out.CorrectCount = a.CorrectCount + b.CorrectCount
	out.IncorrectCount = a.IncorrectCount + b.IncorrectCount
	out.SkipCount = a.SkipCount + b.SkipCount
	out.MinutesSpent = a.MinutesSpent + b.MinutesSpent

	if a.LastSeenAt.After(out.LastSeenAt) {
		out.LastSeenAt = a.LastSeenAt
	}
	switch {
	case a.LastReviewedAt == nil:
	case out.LastReviewedAt == nil || a.LastReviewedAt.After(*out.LastReviewedAt):
		t := *a.LastReviewedAt
		out.LastReviewedAt = &t
	}
	if a.NextReviewAt.Before(out.NextReviewAt) {
		out.NextReviewAt = a.NextReviewAt
	}
	return &out
}
