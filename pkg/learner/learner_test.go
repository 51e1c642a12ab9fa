package learner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/learngraph/pkg/store"
)

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func setupEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, func() time.Time { return testNow }), s
}

func ptr(v float64) *float64 { return &v }

func TestMasteryDelta(t *testing.T) {
	assert.InDelta(t, 0.054, MasteryDelta(true, 0.8, 1), 1e-9)
	assert.InDelta(t, -0.054, MasteryDelta(false, 0.8, 1), 1e-9)
	assert.InDelta(t, 0.045, MasteryDelta(true, 0, 1), 1e-9)
	assert.InDelta(t, 0.0162, MasteryDelta(true, 0.8, SecondaryWeight), 1e-9)
}

func TestReviewDays(t *testing.T) {
	tests := []struct {
		mastery, fragility float64
		want               int
	}{
		{0.3, 0, 1},
		{0.5, 0, 3},
		{0.7, 0, 3},
		{0.8, 0, 7},
		{0.5, 0.7, 2},
		{0.8, 0.7, 4},
		{0.2, 0.9, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReviewDays(tt.mastery, tt.fragility), "mastery=%v fragility=%v", tt.mastery, tt.fragility)
	}
}

func TestUpdateConceptState_CorrectHardAttempt(t *testing.T) {
	e, _ := setupEngine(t)

	u, err := e.UpdateConceptState(context.Background(), Attempt{
		UserID: "u1", ConceptID: "c1", Correct: true, Difficulty: 0.8, Weight: 1,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.4, u.Before.Mastery, 1e-9)
	assert.InDelta(t, DefaultFragility, u.Before.Fragility, 1e-9)
	assert.InDelta(t, 0.454, u.After.Mastery, 1e-9)
	// No logged attempts yet: recent correct rate is 0.
	assert.InDelta(t, 1.0, u.After.Fragility, 1e-9)
	assert.InDelta(t, DefaultConfidence, u.After.Confidence, 1e-9)
	assert.Zero(t, u.After.PrereqGap)
	assert.True(t, u.After.NextReviewAt.Equal(testNow.AddDate(0, 0, 2)))
}

func TestUpdateConceptState_StreaksAndConfidence(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	_, err := e.UpdateConceptState(ctx, Attempt{UserID: "u1", ConceptID: "c1", Correct: true, Confidence: ptr(1)})
	require.NoError(t, err)
	_, err = e.UpdateConceptState(ctx, Attempt{UserID: "u1", ConceptID: "c1", Correct: true})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		st, err := tx.GetConceptState(ctx, "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.StreakSuccess)
		assert.Equal(t, int64(0), st.StreakFail)
		assert.Equal(t, int64(2), st.AttemptCountTotal)
		assert.InDelta(t, 0.65, st.Confidence, 1e-9)
		return nil
	}))

	_, err = e.UpdateConceptState(ctx, Attempt{UserID: "u1", ConceptID: "c1", Correct: false})
	require.NoError(t, err)
	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		st, err := tx.GetConceptState(ctx, "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.StreakSuccess)
		assert.Equal(t, int64(1), st.StreakFail)
		return nil
	}))
}

func TestUpdateConceptState_PrereqGap(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.DeclarePrerequisite(ctx, "derivatives", "limits"))
	require.NoError(t, e.DeclarePrerequisite(ctx, "derivatives", "functions"))
	require.NoError(t, e.DeclarePrerequisite(ctx, "derivatives", "derivatives"))

	// limits at 0.454, functions never attempted (0.4).
	_, err := e.UpdateConceptState(ctx, Attempt{UserID: "u1", ConceptID: "limits", Correct: true, Difficulty: 0.8})
	require.NoError(t, err)

	u, err := e.UpdateConceptState(ctx, Attempt{UserID: "u1", ConceptID: "derivatives", Correct: true})
	require.NoError(t, err)
	want := ((0.7 - 0.454) + (0.7 - 0.4)) / 2
	assert.InDelta(t, want, u.After.PrereqGap, 1e-9)
}

func TestRecordQuizAttempt_WeightsAndFragility(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	updates, err := e.RecordQuizAttempt(ctx, QuizSubmission{
		UserID:   "u1",
		CourseID: "calc-101",
		Questions: []ScoredQuestion{
			{ItemID: "q1", PrimaryConceptID: "chain-rule", SecondaryConceptIDs: []string{"derivatives"}, Correct: true, Difficulty: 0.8},
			{ItemID: "q2", Correct: false},
		},
	})
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, "chain-rule", updates[0].ConceptID)
	assert.InDelta(t, 0.454, updates[0].After.Mastery, 1e-9)
	assert.InDelta(t, 0.0, updates[0].After.Fragility, 1e-9)

	assert.Equal(t, "derivatives", updates[1].ConceptID)
	assert.InDelta(t, 0.4+0.054*SecondaryWeight, updates[1].After.Mastery, 1e-9)

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		outcomes, err := tx.RecentAttemptOutcomes(ctx, "u1", "", 10)
		require.NoError(t, err)
		assert.Equal(t, []bool{false}, outcomes)
		return nil
	}))
}

func TestLaggingConcepts_RankingAndCourseFilter(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		for _, st := range []store.ConceptState{
			{UserID: "u1", ConceptID: "strong", Mastery: 0.9, Fragility: 0.1, Confidence: 0.5, NextReviewAt: testNow.Add(48 * time.Hour)},
			{UserID: "u1", ConceptID: "weak", Mastery: 0.3, Fragility: 0.6, Confidence: 0.5, NextReviewAt: testNow.Add(48 * time.Hour)},
			{UserID: "u1", ConceptID: "overconfident", Mastery: 0.45, Fragility: 0.3, Confidence: 0.9, NextReviewAt: testNow.Add(-time.Hour)},
			{UserID: "u2", ConceptID: "weak", Mastery: 0, Fragility: 1, NextReviewAt: testNow},
		} {
			st.LastPracticedAt = testNow
			if err := tx.PutConceptState(ctx, &st); err != nil {
				return err
			}
		}
		return tx.AssignCourseConcept(ctx, "calc", "strong", 0.6)
	}))

	got, err := e.LaggingConcepts(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "overconfident", got[0].ConceptID)
	assert.InDelta(t, 0.55+0.3+0.3+0.2, got[0].Priority, 1e-9)
	assert.Equal(t, "weak", got[1].ConceptID)
	assert.InDelta(t, 1.3, got[1].Priority, 1e-9)
	assert.Equal(t, "strong", got[2].ConceptID)
	assert.Equal(t, "strong", got[2].Title)

	got, err = e.LaggingConcepts(ctx, "u1", "calc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "strong", got[0].ConceptID)
}

func TestLaggingConcepts_TopTenAndTitles(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		if err := tx.InsertTopic(ctx, &store.Topic{ID: "t1", Label: "Calculus", Slug: "calculus", CreatedAt: testNow, UpdatedAt: testNow}); err != nil {
			return err
		}
		if err := tx.InsertConcept(ctx, &store.Concept{ID: "c0", TopicID: "t1", Label: "Chain Rule", Slug: "chain-rule", CreatedAt: testNow, UpdatedAt: testNow}); err != nil {
			return err
		}
		for i := 0; i < 12; i++ {
			st := store.ConceptState{
				UserID:          "u1",
				ConceptID:       fmt.Sprintf("c%d", i),
				Mastery:         float64(i) / 20,
				LastPracticedAt: testNow,
				NextReviewAt:    testNow.Add(time.Hour),
			}
			if err := tx.PutConceptState(ctx, &st); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := e.LaggingConcepts(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "c0", got[0].ConceptID)
	assert.Equal(t, "Chain Rule", got[0].Title)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Priority, got[i].Priority)
	}
}
