package fingerprint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/store"
)

type engineFixture struct {
	e   *Engine
	s   *store.SQLiteStore
	now time.Time
}

func setupEngine(t *testing.T, cacheSize int) *engineFixture {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dec, err := events.NewDecoder()
	require.NoError(t, err)

	f := &engineFixture{s: s, now: t0}
	e, err := New(s, dec, Config{CacheSize: cacheSize, Clock: func() time.Time { return f.now }})
	require.NoError(t, err)
	f.e = e
	return f
}

func (f *engineFixture) record(t *testing.T, in events.Interaction) *RecordResult {
	t.Helper()
	f.now = f.now.Add(time.Second)
	res, err := f.e.Record(context.Background(), in)
	require.NoError(t, err)
	return res
}

func submit(user, qid, payload string, tags ...string) events.Interaction {
	return events.Interaction{
		UserID:      user,
		QuestionID:  qid,
		ConceptTags: tags,
		Type:        events.AnswerSubmitted,
		Payload:     []byte(payload),
	}
}

func TestEngine_RecordDetectsAlgebraSlip(t *testing.T) {
	f := setupEngine(t, 0)
	ctx := context.Background()

	r1 := f.record(t, submit("u1", "q7", `{"correct":false}`, "limits"))
	r2 := f.record(t, submit("u1", "q7", `{"correct":true}`, "limits"))
	assert.NotEmpty(t, r1.ID)
	assert.NotEqual(t, r1.ID, r2.ID)
	assert.False(t, r2.Skipped)

	s, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, s.ErrorHotspots)
	assert.Equal(t, AlgebraSlip, s.ErrorHotspots[0].ErrorType)
	assert.Equal(t, 0.333, s.ErrorHotspots[0].Score)
	assert.Equal(t, []string{"q7"}, s.ErrorHotspots[0].Examples)

	bd, err := f.e.Breakdown(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, bd, 1)
	assert.Equal(t, "limits", bd[0].ConceptTag)
	assert.Equal(t, int64(2), bd[0].Exposures)
}

func TestEngine_RecordRequiresUser(t *testing.T) {
	f := setupEngine(t, 0)
	_, err := f.e.Record(context.Background(), submit("", "q1", `{}`))
	assert.Error(t, err)
}

func TestEngine_RecordSanitizesPayload(t *testing.T) {
	f := setupEngine(t, 0)

	res := f.record(t, submit("u1", "q1", `{"correct":"yes","confidence":5}`))
	require.Error(t, res.PayloadErr)
	assert.NotEmpty(t, res.ID)

	require.NoError(t, f.s.View(context.Background(), func(tx *store.Tx) error {
		rows, err := tx.RecentCognitiveEvents(context.Background(), "u1", 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, `{"confidence":5}`, rows[0].Payload)
		return nil
	}))
}

func TestEngine_PreferencesPersistAcrossRecords(t *testing.T) {
	f := setupEngine(t, 0)
	ctx := context.Background()

	f.record(t, events.Interaction{UserID: "u1", QuestionID: "q1", Type: events.DiagramToggled, Payload: []byte(`{"delta_success":0.1}`)})
	f.record(t, submit("u1", "q1", `{"correct":true}`))
	f.record(t, submit("u1", "q2", `{"correct":false}`))

	s, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	// One nudge for the toggle and one for the correct answer after it.
	assert.InDelta(t, 0.5, s.Preferences[events.ModalityDiagram], 1e-9)

	require.NoError(t, f.e.Recompute(ctx, "u1"))
	s, err = f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.Preferences[events.ModalityDiagram], 1e-9)
}

func TestEngine_SummaryCache(t *testing.T) {
	f := setupEngine(t, 8)
	ctx := context.Background()

	f.record(t, submit("u1", "q1", `{"correct":false}`))
	assert.False(t, f.e.cache.Contains("u1"))
	s1, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, f.e.cache.Contains("u1"))
	s2, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	f.record(t, submit("u1", "q1", `{"correct":true}`))
	assert.False(t, f.e.cache.Contains("u1"))
	s3, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, AlgebraSlip, s3.DominantError())
}

func TestEngine_SummaryIsCallerOwned(t *testing.T) {
	f := setupEngine(t, 8)
	ctx := context.Background()

	f.record(t, submit("u1", "q7", `{"correct":false}`))
	f.record(t, submit("u1", "q7", `{"correct":true}`))

	s1, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, s1.ErrorHotspots)
	s1.Preferences[events.ModalityDiagram] = 0.9
	s1.ErrorHotspots[0].Examples[0] = "tampered"
	s1.ErrorHotspots = nil

	s2, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.InDelta(t, 0.4, s2.Preferences[events.ModalityDiagram], 1e-9)
	require.NotEmpty(t, s2.ErrorHotspots)
	assert.Equal(t, []string{"q7"}, s2.ErrorHotspots[0].Examples)
}

func TestEngine_SummaryFillRacesRecord(t *testing.T) {
	f := setupEngine(t, 8)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.e.Record(ctx, submit("u1", "q1", `{"correct":true}`, "limits"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.e.Summary(ctx, "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cached, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	f.e.cache.Purge()
	fresh, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fresh, cached)
}

func TestEngine_DeleteAndEnable(t *testing.T) {
	f := setupEngine(t, 8)
	ctx := context.Background()

	f.record(t, submit("u1", "q7", `{"correct":false}`, "limits"))
	f.record(t, submit("u2", "q1", `{"correct":false}`))

	require.NoError(t, f.e.Delete(ctx, "u1"))

	enabled, err := f.e.Enabled(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, enabled)

	s, err := f.e.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, s.ErrorHotspots)
	assert.Empty(t, s.WeakConceptsDue)
	assert.Equal(t, DefaultPreferences(), s.Preferences)

	res := f.record(t, submit("u1", "q7", `{"correct":true}`))
	assert.True(t, res.Skipped)
	assert.Empty(t, res.ID)

	require.NoError(t, f.s.View(ctx, func(tx *store.Tx) error {
		rows, err := tx.RecentCognitiveEvents(ctx, "u1", 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
		other, err := tx.RecentCognitiveEvents(ctx, "u2", 10)
		require.NoError(t, err)
		assert.Len(t, other, 1)
		return nil
	}))

	require.NoError(t, f.e.Enable(ctx, "u1"))
	res = f.record(t, submit("u1", "q7", `{"correct":true}`))
	assert.False(t, res.Skipped)
	assert.NotEmpty(t, res.ID)
}

func TestEngine_Plan(t *testing.T) {
	f := setupEngine(t, 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.record(t, events.Interaction{UserID: "u1", QuestionID: "q1", Type: events.DiagramToggled, Payload: []byte(`{"delta_success":1}`)})
	}
	f.record(t, submit("u1", "n1", `{"correct":true,"question_format":"numeric"}`, "algebra"))
	f.record(t, submit("u1", "s1", `{"correct":false,"question_format":"symbolic"}`, "algebra"))

	plan, err := f.e.Plan(ctx, "u1", PlanContext{})
	require.NoError(t, err)
	assert.Equal(t, StyleDiagramFirst, plan.ExplanationStyle)
	assert.Contains(t, plan.Interventions, "Introduce variables gradually after numeric walkthrough.")
	assert.Equal(t, []string{"algebra"}, plan.NextPractice.ConceptTags)
}

func TestEngine_ConcurrentRecords(t *testing.T) {
	f := setupEngine(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.e.Record(ctx, submit("u1", "q1", `{"correct":true}`, "limits"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bd, err := f.e.Breakdown(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, bd, 1)
	assert.Equal(t, int64(8), bd[0].Exposures)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock2 := k.Lock("b")
	assert.Len(t, k.locks, 2)
	unlock()
	unlock2()
	assert.Empty(t, k.locks)
}
