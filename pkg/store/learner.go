package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const conceptStateColumns = `user_id, concept_id, mastery, fragility, confidence, prereq_gap,
	attempt_count_total, streak_success, streak_fail, last_practiced_at, next_review_at`

func scanConceptState(row interface{ Scan(...any) error }) (*ConceptState, error) {
	var (
		s                         ConceptState
		lastPracticed, nextReview int64
	)
	err := row.Scan(&s.UserID, &s.ConceptID, &s.Mastery, &s.Fragility, &s.Confidence, &s.PrereqGap,
		&s.AttemptCountTotal, &s.StreakSuccess, &s.StreakFail, &lastPracticed, &nextReview)
	if err != nil {
		return nil, err
	}
	s.LastPracticedAt = fromMillis(lastPracticed)
	s.NextReviewAt = fromMillis(nextReview)
	return &s, nil
}

// GetConceptState returns the learner's state for a concept or ErrNotFound.
func (t *Tx) GetConceptState(ctx context.Context, userID, conceptID string) (*ConceptState, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+conceptStateColumns+" FROM learner_concept_state WHERE user_id = ? AND concept_id = ?",
		userID, conceptID,
	)
	s, err := scanConceptState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept state: %w", err)
	}
	return s, nil
}

// PutConceptState inserts or replaces a learner's state for a concept.
func (t *Tx) PutConceptState(ctx context.Context, s *ConceptState) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO learner_concept_state (`+conceptStateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, concept_id) DO UPDATE SET
			mastery = excluded.mastery,
			fragility = excluded.fragility,
			confidence = excluded.confidence,
			prereq_gap = excluded.prereq_gap,
			attempt_count_total = excluded.attempt_count_total,
			streak_success = excluded.streak_success,
			streak_fail = excluded.streak_fail,
			last_practiced_at = excluded.last_practiced_at,
			next_review_at = excluded.next_review_at
	`,
		s.UserID, s.ConceptID, s.Mastery, s.Fragility, s.Confidence, s.PrereqGap,
		s.AttemptCountTotal, s.StreakSuccess, s.StreakFail,
		toMillis(s.LastPracticedAt), toMillis(s.NextReviewAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put concept state: %w", err)
	}
	return nil
}

// ConceptStates returns every state row for a learner. A non-empty courseID
// restricts the result to concepts mapped to that course.
func (t *Tx) ConceptStates(ctx context.Context, userID, courseID string) ([]ConceptState, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if courseID == "" {
		rows, err = t.tx.QueryContext(ctx,
			"SELECT "+conceptStateColumns+" FROM learner_concept_state WHERE user_id = ? ORDER BY concept_id",
			userID,
		)
	} else {
		rows, err = t.tx.QueryContext(ctx, `
			SELECT s.user_id, s.concept_id, s.mastery, s.fragility, s.confidence, s.prereq_gap,
				s.attempt_count_total, s.streak_success, s.streak_fail, s.last_practiced_at, s.next_review_at
			FROM learner_concept_state s
			JOIN course_concepts cc ON cc.concept_id = s.concept_id
			WHERE s.user_id = ? AND cc.course_id = ?
			ORDER BY s.concept_id
		`, userID, courseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list concept states: %w", err)
	}
	defer rows.Close()

	var out []ConceptState
	for rows.Next() {
		s, err := scanConceptState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan concept state: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// AddPrerequisite declares prereqID as a prerequisite of conceptID.
func (t *Tx) AddPrerequisite(ctx context.Context, conceptID, prereqID string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO concept_prereqs (concept_id, prereq_id) VALUES (?, ?)",
		conceptID, prereqID,
	)
	if err != nil {
		return fmt.Errorf("failed to add prerequisite: %w", err)
	}
	return nil
}

// Prerequisites returns the declared prerequisite ids of a concept.
func (t *Tx) Prerequisites(ctx context.Context, conceptID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT prereq_id FROM concept_prereqs WHERE concept_id = ? ORDER BY prereq_id",
		conceptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list prerequisites: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan prerequisite: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AssignCourseConcept maps a concept into a course, replacing its importance
// if the mapping already exists.
func (t *Tx) AssignCourseConcept(ctx context.Context, courseID, conceptID string, importance float64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO course_concepts (course_id, concept_id, importance) VALUES (?, ?, ?)
		ON CONFLICT(course_id, concept_id) DO UPDATE SET importance = excluded.importance
	`, courseID, conceptID, importance)
	if err != nil {
		return fmt.Errorf("failed to assign course concept: %w", err)
	}
	return nil
}
