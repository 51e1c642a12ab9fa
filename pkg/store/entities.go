package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const topicColumns = "id, label, slug, is_archived, created_at, updated_at"

func scanTopic(row interface{ Scan(...any) error }) (*Topic, error) {
	var (
		t                    Topic
		archived             int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Label, &t.Slug, &archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.IsArchived = archived != 0
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

// TopicBySlug returns the topic with the given slug, archived or not.
func (t *Tx) TopicBySlug(ctx context.Context, slug string) (*Topic, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+topicColumns+" FROM topics WHERE slug = ?", slug)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic by slug: %w", err)
	}
	return topic, nil
}

// TopicByID returns the topic with the given id, archived or not.
func (t *Tx) TopicByID(ctx context.Context, id string) (*Topic, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+topicColumns+" FROM topics WHERE id = ?", id)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return topic, nil
}

// InsertTopic adds a new topic row.
func (t *Tx) InsertTopic(ctx context.Context, topic *Topic) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO topics (id, label, slug, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, topic.ID, topic.Label, topic.Slug, boolInt(topic.IsArchived), toMillis(topic.CreatedAt), toMillis(topic.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert topic: %w", err)
	}
	return nil
}

// UpdateTopic overwrites label, slug, archived flag and updated_at.
func (t *Tx) UpdateTopic(ctx context.Context, topic *Topic) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE topics SET label = ?, slug = ?, is_archived = ?, updated_at = ? WHERE id = ?
	`, topic.Label, topic.Slug, boolInt(topic.IsArchived), toMillis(topic.UpdatedAt), topic.ID)
	if err != nil {
		return fmt.Errorf("failed to update topic: %w", err)
	}
	return nil
}

const conceptColumns = "id, topic_id, label, slug, is_archived, created_at, updated_at"

func scanConcept(row interface{ Scan(...any) error }) (*Concept, error) {
	var (
		c                    Concept
		archived             int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &c.TopicID, &c.Label, &c.Slug, &archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.IsArchived = archived != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

// ConceptBySlug returns the concept with the given slug, archived or not.
func (t *Tx) ConceptBySlug(ctx context.Context, slug string) (*Concept, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+conceptColumns+" FROM concepts WHERE slug = ?", slug)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept by slug: %w", err)
	}
	return c, nil
}

// ConceptByID returns the concept with the given id, archived or not.
func (t *Tx) ConceptByID(ctx context.Context, id string) (*Concept, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+conceptColumns+" FROM concepts WHERE id = ?", id)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}
	return c, nil
}

// InsertConcept adds a new concept row.
func (t *Tx) InsertConcept(ctx context.Context, c *Concept) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO concepts (id, topic_id, label, slug, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TopicID, c.Label, c.Slug, boolInt(c.IsArchived), toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert concept: %w", err)
	}
	return nil
}

// UpdateConcept overwrites topic, label, slug, archived flag and updated_at.
func (t *Tx) UpdateConcept(ctx context.Context, c *Concept) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE concepts SET topic_id = ?, label = ?, slug = ?, is_archived = ?, updated_at = ? WHERE id = ?
	`, c.TopicID, c.Label, c.Slug, boolInt(c.IsArchived), toMillis(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update concept: %w", err)
	}
	return nil
}

// ReassignConcepts moves every concept owned by fromTopic to intoTopic and
// returns the ids that moved.
func (t *Tx) ReassignConcepts(ctx context.Context, fromTopic, intoTopic string, now time.Time) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT id FROM concepts WHERE topic_id = ? ORDER BY id", fromTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan concept id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		"UPDATE concepts SET topic_id = ?, updated_at = ? WHERE topic_id = ?",
		intoTopic, toMillis(now), fromTopic,
	); err != nil {
		return nil, fmt.Errorf("failed to reassign concepts: %w", err)
	}
	return ids, nil
}

// LiveConcepts returns every concept that is not archived.
func (t *Tx) LiveConcepts(ctx context.Context) ([]Concept, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT "+conceptColumns+" FROM concepts WHERE is_archived = 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ConceptLabels maps every concept id and slug to its label.
func (t *Tx) ConceptLabels(ctx context.Context) (map[string]string, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT id, slug, label FROM concepts")
	if err != nil {
		return nil, fmt.Errorf("failed to list concept labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]string)
	for rows.Next() {
		var id, slug, label string
		if err := rows.Scan(&id, &slug, &label); err != nil {
			return nil, fmt.Errorf("failed to scan concept label: %w", err)
		}
		labels[id] = label
		if _, taken := labels[slug]; !taken {
			labels[slug] = label
		}
	}
	return labels, rows.Err()
}

const statsColumns = `entity_type, entity_id, strength, exposures, correct_count, incorrect_count,
	skip_count, minutes_spent, last_seen_at, last_reviewed_at, next_review_at`

func scanStats(row interface{ Scan(...any) error }) (*Stats, error) {
	var (
		s            Stats
		entityType   string
		lastSeen     int64
		lastReviewed sql.NullInt64
		nextReview   int64
	)
	err := row.Scan(&entityType, &s.EntityID, &s.Strength, &s.Exposures, &s.CorrectCount,
		&s.IncorrectCount, &s.SkipCount, &s.MinutesSpent, &lastSeen, &lastReviewed, &nextReview)
	if err != nil {
		return nil, err
	}
	s.EntityType = EntityType(entityType)
	s.LastSeenAt = fromMillis(lastSeen)
	s.LastReviewedAt = timePtr(lastReviewed)
	s.NextReviewAt = fromMillis(nextReview)
	return &s, nil
}

// GetStats returns the stats row for an entity or ErrNotFound.
func (t *Tx) GetStats(ctx context.Context, entityType EntityType, id string) (*Stats, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+statsColumns+" FROM entity_stats WHERE entity_type = ? AND entity_id = ?",
		string(entityType), id,
	)
	s, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return s, nil
}

// PutStats inserts or replaces the stats row for an entity.
func (t *Tx) PutStats(ctx context.Context, s *Stats) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entity_stats (`+statsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			strength = excluded.strength,
			exposures = excluded.exposures,
			correct_count = excluded.correct_count,
			incorrect_count = excluded.incorrect_count,
			skip_count = excluded.skip_count,
			minutes_spent = excluded.minutes_spent,
			last_seen_at = excluded.last_seen_at,
			last_reviewed_at = excluded.last_reviewed_at,
			next_review_at = excluded.next_review_at
	`,
		string(s.EntityType), s.EntityID, s.Strength, s.Exposures, s.CorrectCount,
		s.IncorrectCount, s.SkipCount, s.MinutesSpent, toMillis(s.LastSeenAt),
		nullMillis(s.LastReviewedAt), toMillis(s.NextReviewAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put stats: %w", err)
	}
	return nil
}

// CountStats returns how many stats rows exist for an entity (0 or 1).
func (t *Tx) CountStats(ctx context.Context, entityType EntityType, id string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entity_stats WHERE entity_type = ? AND entity_id = ?",
		string(entityType), id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stats: %w", err)
	}
	return n, nil
}

// LiveTopics returns every non-archived topic joined with its stats.
func (t *Tx) LiveTopics(ctx context.Context) ([]EntityRow, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT t.id, '', t.label, t.slug, t.created_at,
			s.entity_type, s.entity_id, s.strength, s.exposures, s.correct_count, s.incorrect_count,
			s.skip_count, s.minutes_spent, s.last_seen_at, s.last_reviewed_at, s.next_review_at
		FROM topics t
		JOIN entity_stats s ON s.entity_type = 'topic' AND s.entity_id = t.id
		WHERE t.is_archived = 0
		ORDER BY t.slug
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// LiveConceptRows returns every non-archived concept joined with its stats.
func (t *Tx) LiveConceptRows(ctx context.Context) ([]EntityRow, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.id, c.topic_id, c.label, c.slug, c.created_at,
			s.entity_type, s.entity_id, s.strength, s.exposures, s.correct_count, s.incorrect_count,
			s.skip_count, s.minutes_spent, s.last_seen_at, s.last_reviewed_at, s.next_review_at
		FROM concepts c
		JOIN entity_stats s ON s.entity_type = 'concept' AND s.entity_id = c.id
		WHERE c.is_archived = 0
		ORDER BY c.slug
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

func scanEntityRows(rows *sql.Rows) ([]EntityRow, error) {
	var out []EntityRow
	for rows.Next() {
		var (
			r            EntityRow
			createdAt    int64
			entityType   string
			lastSeen     int64
			lastReviewed sql.NullInt64
			nextReview   int64
		)
		err := rows.Scan(&r.ID, &r.TopicID, &r.Label, &r.Slug, &createdAt,
			&entityType, &r.Stats.EntityID, &r.Stats.Strength, &r.Stats.Exposures,
			&r.Stats.CorrectCount, &r.Stats.IncorrectCount, &r.Stats.SkipCount,
			&r.Stats.MinutesSpent, &lastSeen, &lastReviewed, &nextReview)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		r.Stats.EntityType = EntityType(entityType)
		r.Stats.LastSeenAt = fromMillis(lastSeen)
		r.Stats.LastReviewedAt = timePtr(lastReviewed)
		r.Stats.NextReviewAt = fromMillis(nextReview)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns live row counts for the storage gauge.
func (t *Tx) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM topics WHERE is_archived = 0", &c.Topics},
		{"SELECT COUNT(*) FROM concepts WHERE is_archived = 0", &c.Concepts},
		{"SELECT COUNT(*) FROM edges WHERE is_archived = 0", &c.Edges},
		{"SELECT COUNT(*) FROM graph_events", &c.GraphEvents},
		{"SELECT COUNT(*) FROM cognitive_events", &c.CognitiveEvents},
	}
	for _, q := range queries {
		if err := t.tx.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Counts{}, fmt.Errorf("failed to count rows: %w", err)
		}
	}
	return c, nil
}
