package processor

import (
	"context"
	"errors"
	"time"

	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/graph"
	"github.com/dan-solli/learngraph/pkg/store"
)

const reasonCoStudy = "co-study"

// coStudyWindow returns the trailing window and weight bump for an event
// type, or ok=false when the type does not infer co-study edges.
func (p *Processor) coStudyWindow(eventType string, now time.Time) (since time.Time, bump float64, ok bool) {
	switch eventType {
	case events.TopicOpened:
		return now.Add(-p.cfg.OpenWindow), p.cfg.OpenBump, true
	case events.QuizSubmitted:
		local := now.In(p.cfg.Location)
		y, m, d := local.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, p.cfg.Location), p.cfg.QuizBump, true
	}
	return time.Time{}, 0, false
}

// inferCoStudy links topicID with every other live topic that saw an event
// of the same type inside the window.
func (p *Processor) inferCoStudy(ctx context.Context, tx *store.Tx, topicID, eventType string, now time.Time) error {
	since, bump, ok := p.coStudyWindow(eventType, now)
	if !ok {
		return nil
	}

	recent, err := tx.GraphEventsSince(ctx, eventType, since)
	if err != nil {
		return err
	}

	slugs := make(map[string]bool)
	linked := make(map[string]bool)
	for _, ev := range recent {
		if ev.TopicLabel == "" {
			continue
		}
		slug := graph.Normalize(ev.TopicLabel).Slug
		if slugs[slug] {
			continue
		}
		slugs[slug] = true

		other, err := tx.TopicBySlug(ctx, slug)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if other.ID == topicID || other.IsArchived || linked[other.ID] {
			continue
		}
		linked[other.ID] = true

		if _, err := p.graph.UpsertEdge(ctx, tx,
			graph.Ref{ID: topicID, Type: store.EntityTopic},
			graph.Ref{ID: other.ID, Type: store.EntityTopic},
			reasonCoStudy, bump,
		); err != nil {
			return err
		}
	}
	if len(linked) > 0 {
		p.logger.Debug("co-study inferred", "topic", topicID, "type", eventType, "partners", len(linked))
	}
	return nil
}
