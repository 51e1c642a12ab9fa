package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/store"
)

// Node is one topic or concept in the graph read model.
type Node struct {
	ID                string    `json:"id"`
	TopicID           string    `json:"topicId,omitempty"`
	Label             string    `json:"label"`
	Slug              string    `json:"slug"`
	Strength          float64   `json:"strength"`
	EffectiveStrength float64   `json:"effectiveStrength"`
	NeedsReview       bool      `json:"needsReview"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
	Exposures         int64     `json:"exposures"`
}

// EdgeView is one live edge in the graph read model.
type EdgeView struct {
	ID       string  `json:"id"`
	FromID   string  `json:"fromId"`
	FromType string  `json:"fromType"`
	ToID     string  `json:"toId"`
	ToType   string  `json:"toType"`
	Weight   float64 `json:"weight"`
	Reason   string  `json:"reason"`
}

// Snapshot is the full graph as seen at one read.
type Snapshot struct {
	Topics   []Node     `json:"topics"`
	Concepts []Node     `json:"concepts"`
	Edges    []EdgeView `json:"edges"`
}

// ReadStats reports the write side effects of one read.
type ReadStats struct {
	ParentEdgesRepaired int
	EdgesDecayed        int
	EdgesArchived       int
}

// ReadGraph returns every live entity with its effective strength and every
// live edge. It is the only place structural decay happens: stale inferred
// edges are decayed and persisted, and edges that fall under the floor are
// archived and omitted. Missing belongs_to edges of live concepts are
// recreated first.
func (g *Graph) ReadGraph(ctx context.Context, tx *store.Tx) (*Snapshot, ReadStats, error) {
	var rs ReadStats
	now := g.Now()

	topics, err := tx.LiveTopics(ctx)
	if err != nil {
		return nil, rs, err
	}
	concepts, err := tx.LiveConceptRows(ctx)
	if err != nil {
		return nil, rs, err
	}

	liveTopics := make(map[string]bool, len(topics))
	for _, t := range topics {
		liveTopics[t.ID] = true
	}
	liveConcepts := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		liveConcepts[c.ID] = true
	}

	for _, c := range concepts {
		if !liveTopics[c.TopicID] {
			continue
		}
		repaired, err := g.repairParentEdge(ctx, tx, c.TopicID, c.ID)
		if err != nil {
			return nil, rs, fmt.Errorf("failed to repair parent edge: %w", err)
		}
		if repaired {
			rs.ParentEdgesRepaired++
		}
	}

	edges, err := tx.LiveEdges(ctx)
	if err != nil {
		return nil, rs, err
	}

	live := func(r Ref) bool {
		if r.Type == store.EntityTopic {
			return liveTopics[r.ID]
		}
		return liveConcepts[r.ID]
	}

	out := &Snapshot{
		Topics:   make([]Node, 0, len(topics)),
		Concepts: make([]Node, 0, len(concepts)),
		Edges:    make([]EdgeView, 0, len(edges)),
	}
	for i := range edges {
		e := &edges[i]
		res := g.policy.Apply(e.Reason, e.Weight, e.UpdatedAt, now)
		if res.Decayed {
			e.Weight = res.Weight
			e.IsArchived = res.Archive
			e.UpdatedAt = now
			if err := tx.UpdateEdge(ctx, e); err != nil {
				return nil, rs, fmt.Errorf("failed to persist edge decay: %w", err)
			}
			rs.EdgesDecayed++
			if res.Archive {
				rs.EdgesArchived++
				g.logger.Debug("edge archived by decay", "id", e.ID, "weight", e.Weight)
				continue
			}
		}
		if !live(Ref{ID: e.FromID, Type: e.FromType}) || !live(Ref{ID: e.ToID, Type: e.ToType}) {
			continue
		}
		out.Edges = append(out.Edges, EdgeView{
			ID:       e.ID,
			FromID:   e.FromID,
			FromType: string(e.FromType),
			ToID:     e.ToID,
			ToType:   string(e.ToType),
			Weight:   e.Weight,
			Reason:   e.Reason,
		})
	}

	for _, t := range topics {
		out.Topics = append(out.Topics, toNode(store.EntityTopic, t, now))
	}
	for _, c := range concepts {
		out.Concepts = append(out.Concepts, toNode(store.EntityConcept, c, now))
	}
	return out, rs, nil
}

func (g *Graph) repairParentEdge(ctx context.Context, tx *store.Tx, topicID, conceptID string) (bool, error) {
	e, err := tx.EdgeByEndpoints(ctx, topicID, store.EntityTopic, conceptID, store.EntityConcept)
	if err == nil && !e.IsArchived && e.Reason == store.ReasonBelongsTo {
		return false, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if err := g.EnsureParentEdge(ctx, tx, topicID, conceptID); err != nil {
		return false, err
	}
	return true, nil
}

func toNode(kind store.EntityType, r store.EntityRow, now time.Time) Node {
	eff := decay.EffectiveStrength(kind, r.Stats.Strength, r.Stats.LastSeenAt, now)
	return Node{
		ID:                r.ID,
		TopicID:           r.TopicID,
		Label:             r.Label,
		Slug:              r.Slug,
		Strength:          r.Stats.Strength,
		EffectiveStrength: eff,
		NeedsReview:       decay.NeedsReview(eff, r.Stats.NextReviewAt, now),
		LastSeenAt:        r.Stats.LastSeenAt,
		Exposures:         r.Stats.Exposures,
	}
}
