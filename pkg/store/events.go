package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dan-solli/learngraph/pkg/jsonx"
)

// AppendGraphEvent appends an activity log row and fills in its sequence number.
func (t *Tx) AppendGraphEvent(ctx context.Context, ev *GraphEvent) error {
	payload := ev.Payload
	if payload == "" {
		payload = "{}"
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO graph_events (id, type, topic_label, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.Type, ev.TopicLabel, payload, toMillis(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append graph event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read graph event seq: %w", err)
	}
	ev.Seq = seq
	ev.Payload = payload
	return nil
}

// GraphEventsSince returns events of one type created at or after since, in
// chronological order.
func (t *Tx) GraphEventsSince(ctx context.Context, eventType string, since time.Time) ([]GraphEvent, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, id, type, topic_label, payload, created_at
		FROM graph_events
		WHERE type = ? AND created_at >= ?
		ORDER BY created_at, seq
	`, eventType, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query graph events: %w", err)
	}
	defer rows.Close()

	var out []GraphEvent
	for rows.Next() {
		var (
			ev        GraphEvent
			createdAt int64
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Type, &ev.TopicLabel, &ev.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan graph event: %w", err)
		}
		ev.CreatedAt = fromMillis(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AppendQuizAttempt appends one scored answer attributed to a concept.
func (t *Tx) AppendQuizAttempt(ctx context.Context, a *QuizAttempt) error {
	payload := a.Payload
	if payload == "" {
		payload = "{}"
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO quiz_attempts (id, user_id, course_id, concept_id, correct, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.CourseID, a.ConceptID, boolInt(a.Correct), payload, toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append quiz attempt: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read quiz attempt seq: %w", err)
	}
	a.Seq = seq
	a.Payload = payload
	return nil
}

// RecentAttemptOutcomes returns the correctness of the newest limit attempts
// for a learner and concept, newest first.
func (t *Tx) RecentAttemptOutcomes(ctx context.Context, userID, conceptID string, limit int) ([]bool, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT correct FROM quiz_attempts
		WHERE user_id = ? AND concept_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, userID, conceptID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quiz attempts: %w", err)
	}
	defer rows.Close()

	var out []bool
	for rows.Next() {
		var correct int
		if err := rows.Scan(&correct); err != nil {
			return nil, fmt.Errorf("failed to scan quiz attempt: %w", err)
		}
		out = append(out, correct != 0)
	}
	return out, rows.Err()
}

// AppendCognitiveEvent appends a learner interaction and fills in its sequence number.
func (t *Tx) AppendCognitiveEvent(ctx context.Context, ev *CognitiveEvent) error {
	tags := ev.ConceptTags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := jsonx.MarshalToString(tags)
	if err != nil {
		return fmt.Errorf("failed to encode concept tags: %w", err)
	}
	payload := ev.Payload
	if payload == "" {
		payload = "{}"
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO cognitive_events
			(id, user_id, session_id, course_id, concept_tags, question_id, interaction_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.UserID, ev.SessionID, ev.CourseID, tagsJSON, ev.QuestionID,
		ev.InteractionType, payload, toMillis(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append cognitive event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read cognitive event seq: %w", err)
	}
	ev.Seq = seq
	ev.Payload = payload
	return nil
}

// RecentCognitiveEvents returns the newest limit events for a learner in
// chronological order.
func (t *Tx) RecentCognitiveEvents(ctx context.Context, userID string, limit int) ([]CognitiveEvent, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, id, user_id, session_id, course_id, concept_tags, question_id,
			interaction_type, payload, created_at
		FROM (
			SELECT * FROM cognitive_events
			WHERE user_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at, seq
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cognitive events: %w", err)
	}
	defer rows.Close()

	var out []CognitiveEvent
	for rows.Next() {
		var (
			ev        CognitiveEvent
			tagsJSON  string
			createdAt int64
		)
		err := rows.Scan(&ev.Seq, &ev.ID, &ev.UserID, &ev.SessionID, &ev.CourseID, &tagsJSON,
			&ev.QuestionID, &ev.InteractionType, &ev.Payload, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cognitive event: %w", err)
		}
		if err := jsonx.UnmarshalFromString(tagsJSON, &ev.ConceptTags); err != nil {
			return nil, fmt.Errorf("failed to decode concept tags for event %s: %w", ev.ID, err)
		}
		ev.CreatedAt = fromMillis(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteCognitiveEvents removes every raw event for a learner.
func (t *Tx) DeleteCognitiveEvents(ctx context.Context, userID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM cognitive_events WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cognitive events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
