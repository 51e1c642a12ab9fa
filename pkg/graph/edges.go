package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/store"
)

// Ref identifies one end of an edge.
type Ref struct {
	ID   string
	Type store.EntityType
}

func compareRefs(a, b Ref) int {
	if a.Type != b.Type {
		return strings.Compare(string(a.Type), string(b.Type))
	}
	return strings.Compare(a.ID, b.ID)
}

// Canonical orders a symmetric pair so the smaller (type, id) key is first.
func Canonical(a, b Ref) (Ref, Ref) {
	if compareRefs(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// UpsertEdge creates or reinforces the edge between from and to and returns
// its id. Edges other than belongs_to are stored once per unordered pair.
// An existing edge gains delta (clamped to [0, 1]); belongs_to edges are
// pinned at weight 1. An empty reason keeps the stored one. Self-loops are
// ignored and return "".
func (g *Graph) UpsertEdge(ctx context.Context, tx *store.Tx, from, to Ref, reason string, delta float64) (string, error) {
	if from == to {
		return "", nil
	}
	hierarchy := reason == store.ReasonBelongsTo
	if !hierarchy {
		from, to = Canonical(from, to)
	}

	now := g.Now()
	e, err := tx.EdgeByEndpoints(ctx, from.ID, from.Type, to.ID, to.Type)
	switch {
	case err == nil:
		if hierarchy {
			e.Weight = 1
		} else {
			e.Weight = decay.Clamp01(e.Weight + delta)
		}
		if reason != "" {
			e.Reason = reason
		}
		e.IsArchived = false
		e.UpdatedAt = now
		if err := tx.UpdateEdge(ctx, e); err != nil {
			return "", err
		}
		return e.ID, nil

	case errors.Is(err, store.ErrNotFound):
		weight := decay.Clamp01(delta)
		if hierarchy {
			weight = 1
		}
		e = &store.Edge{
			ID:        uuid.New().String(),
			FromID:    from.ID,
			FromType:  from.Type,
			ToID:      to.ID,
			ToType:    to.Type,
			Weight:    weight,
			Reason:    reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertEdge(ctx, e); err != nil {
			return "", err
		}
		g.logger.Debug("edge created", "id", e.ID, "reason", reason,
			"from", from.ID, "to", to.ID, "weight", weight)
		return e.ID, nil

	default:
		return "", err
	}
}

// EnsureParentEdge guarantees a live topic -> concept belongs_to edge.
func (g *Graph) EnsureParentEdge(ctx context.Context, tx *store.Tx, topicID, conceptID string) error {
	_, err := g.UpsertEdge(ctx, tx,
		Ref{ID: topicID, Type: store.EntityTopic},
		Ref{ID: conceptID, Type: store.EntityConcept},
		store.ReasonBelongsTo, 1,
	)
	return err
}

// ArchiveEdge archives whatever edges join a and b, in either orientation.
// It reports whether any row changed.
func (g *Graph) ArchiveEdge(ctx context.Context, tx *store.Tx, a, b Ref) (bool, error) {
	n, err := tx.ArchiveEdgesBetween(ctx, a.Type, a.ID, b.Type, b.ID, g.Now())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
