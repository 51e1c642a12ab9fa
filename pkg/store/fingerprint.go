package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dan-solli/learngraph/pkg/jsonx"
)

// FingerprintEnabled reports whether fingerprint recording is on for a
// learner. Learners without a settings row are enabled.
func (t *Tx) FingerprintEnabled(ctx context.Context, userID string) (bool, error) {
	var enabled int
	err := t.tx.QueryRowContext(ctx,
		"SELECT enable_fingerprint FROM user_settings WHERE user_id = ?", userID,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read user settings: %w", err)
	}
	return enabled != 0, nil
}

// SetFingerprintEnabled writes the learner's fingerprint setting.
func (t *Tx) SetFingerprintEnabled(ctx context.Context, userID string, enabled bool, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, enable_fingerprint, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enable_fingerprint = excluded.enable_fingerprint,
			updated_at = excluded.updated_at
	`, userID, boolInt(enabled), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to write user settings: %w", err)
	}
	return nil
}

// GetFingerprintUser returns the learner's summary row or ErrNotFound.
func (t *Tx) GetFingerprintUser(ctx context.Context, userID string) (*FingerprintUser, error) {
	var (
		fu                      FingerprintUser
		scores, examples, prefs string
		updatedAt               int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, error_type_scores, error_examples, preference_scores, preference_watermark, updated_at
		FROM fingerprint_user WHERE user_id = ?
	`, userID).Scan(&fu.UserID, &scores, &examples, &prefs, &fu.PreferenceWatermark, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}

	if err := jsonx.UnmarshalFromString(scores, &fu.ErrorTypeScores); err != nil {
		return nil, fmt.Errorf("failed to decode error type scores: %w", err)
	}
	if err := jsonx.UnmarshalFromString(examples, &fu.ErrorExamples); err != nil {
		return nil, fmt.Errorf("failed to decode error examples: %w", err)
	}
	if err := jsonx.UnmarshalFromString(prefs, &fu.PreferenceScores); err != nil {
		return nil, fmt.Errorf("failed to decode preference scores: %w", err)
	}
	fu.UpdatedAt = fromMillis(updatedAt)
	return &fu, nil
}

// PutFingerprintUser inserts or replaces the learner's summary row.
func (t *Tx) PutFingerprintUser(ctx context.Context, fu *FingerprintUser) error {
	scores, err := jsonx.MarshalToString(nonNilScores(fu.ErrorTypeScores))
	if err != nil {
		return fmt.Errorf("failed to encode error type scores: %w", err)
	}
	examples := fu.ErrorExamples
	if examples == nil {
		examples = map[string][]string{}
	}
	examplesJSON, err := jsonx.MarshalToString(examples)
	if err != nil {
		return fmt.Errorf("failed to encode error examples: %w", err)
	}
	prefs, err := jsonx.MarshalToString(nonNilScores(fu.PreferenceScores))
	if err != nil {
		return fmt.Errorf("failed to encode preference scores: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO fingerprint_user
			(user_id, error_type_scores, error_examples, preference_scores, preference_watermark, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			error_type_scores = excluded.error_type_scores,
			error_examples = excluded.error_examples,
			preference_scores = excluded.preference_scores,
			preference_watermark = excluded.preference_watermark,
			updated_at = excluded.updated_at
	`, fu.UserID, scores, examplesJSON, prefs, fu.PreferenceWatermark, toMillis(fu.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to put fingerprint: %w", err)
	}
	return nil
}

func nonNilScores(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// PutFingerprintConcept inserts or replaces one concept roll-up row.
func (t *Tx) PutFingerprintConcept(ctx context.Context, fc *FingerprintConcept) error {
	modes := fc.LastFailModes
	if modes == nil {
		modes = []string{}
	}
	modesJSON, err := jsonx.MarshalToString(modes)
	if err != nil {
		return fmt.Errorf("failed to encode fail modes: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO fingerprint_concept
			(user_id, concept_tag, strength, fragility, half_life_days, last_seen_at, last_practiced_at,
			 exposures, success_count, fail_count, last_fail_modes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, concept_tag) DO UPDATE SET
			strength = excluded.strength,
			fragility = excluded.fragility,
			half_life_days = excluded.half_life_days,
			last_seen_at = excluded.last_seen_at,
			last_practiced_at = excluded.last_practiced_at,
			exposures = excluded.exposures,
			success_count = excluded.success_count,
			fail_count = excluded.fail_count,
			last_fail_modes = excluded.last_fail_modes,
			updated_at = excluded.updated_at
	`,
		fc.UserID, fc.ConceptTag, fc.Strength, fc.Fragility, fc.HalfLifeDays,
		nullMillis(fc.LastSeenAt), nullMillis(fc.LastPracticedAt),
		fc.Exposures, fc.SuccessCount, fc.FailCount, modesJSON, toMillis(fc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put fingerprint concept: %w", err)
	}
	return nil
}

// FingerprintConcepts returns a learner's concept rows, weakest first
// (strength ascending, then fragility descending), up to limit rows.
func (t *Tx) FingerprintConcepts(ctx context.Context, userID string, limit int) ([]FingerprintConcept, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT user_id, concept_tag, strength, fragility, half_life_days, last_seen_at, last_practiced_at,
			exposures, success_count, fail_count, last_fail_modes, updated_at
		FROM fingerprint_concept
		WHERE user_id = ?
		ORDER BY strength ASC, fragility DESC, concept_tag ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprint concepts: %w", err)
	}
	defer rows.Close()

	var out []FingerprintConcept
	for rows.Next() {
		var (
			fc                      FingerprintConcept
			lastSeen, lastPracticed sql.NullInt64
			modes                   string
			updatedAt               int64
		)
		err := rows.Scan(&fc.UserID, &fc.ConceptTag, &fc.Strength, &fc.Fragility, &fc.HalfLifeDays,
			&lastSeen, &lastPracticed, &fc.Exposures, &fc.SuccessCount, &fc.FailCount, &modes, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint concept: %w", err)
		}
		if err := jsonx.UnmarshalFromString(modes, &fc.LastFailModes); err != nil {
			return nil, fmt.Errorf("failed to decode fail modes for %s: %w", fc.ConceptTag, err)
		}
		fc.LastSeenAt = timePtr(lastSeen)
		fc.LastPracticedAt = timePtr(lastPracticed)
		fc.UpdatedAt = fromMillis(updatedAt)
		out = append(out, fc)
	}
	return out, rows.Err()
}

// DeleteFingerprint removes the learner's derived rows.
func (t *Tx) DeleteFingerprint(ctx context.Context, userID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM fingerprint_concept WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete fingerprint concepts: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM fingerprint_user WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete fingerprint: %w", err)
	}
	return nil
}
