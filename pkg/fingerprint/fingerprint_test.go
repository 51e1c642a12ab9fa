package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/store"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func answer(seq int64, qid string, correct bool) Observation {
	return Observation{
		Seq:         seq,
		QuestionID:  qid,
		Interaction: events.AnswerSubmitted,
		Payload:     events.CognitivePayload{Correct: boolPtr(correct)},
		At:          t0.Add(time.Duration(seq) * time.Minute),
	}
}

func TestClassifyErrors_AlgebraSlip(t *testing.T) {
	obs := []Observation{answer(1, "q7", false), answer(2, "q7", true)}

	p := ClassifyErrors(obs)
	assert.Equal(t, 0.333, p.Scores[AlgebraSlip])
	assert.Equal(t, []string{"q7"}, p.Examples[AlgebraSlip])
	assert.Zero(t, p.Scores[IntuitionFailure])
}

func TestClassifyErrors_SlipNeedsSameQuestion(t *testing.T) {
	obs := []Observation{answer(1, "q1", false), answer(2, "q2", true)}
	assert.Zero(t, ClassifyErrors(obs).Scores[AlgebraSlip])
}

func TestClassifyErrors_OrdersChronologically(t *testing.T) {
	// Same rows, reverse input order: correct came first, so no slip.
	first := answer(1, "q7", true)
	second := answer(2, "q7", false)
	p := ClassifyErrors([]Observation{second, first})
	assert.Zero(t, p.Scores[AlgebraSlip])
}

func TestClassifyErrors_IntuitionFailure(t *testing.T) {
	var obs []Observation
	for i := int64(1); i <= 3; i++ {
		o := answer(i, "", false)
		o.Payload.Confidence = 4
		obs = append(obs, o)
	}
	low := answer(4, "", false)
	low.Payload.Confidence = 2
	obs = append(obs, low)

	p := ClassifyErrors(obs)
	assert.Equal(t, 0.75, p.Scores[IntuitionFailure])
	assert.Equal(t, []string{"unknown", "unknown", "unknown"}, p.Examples[IntuitionFailure])
}

func TestClassifyErrors_SymbolicGap(t *testing.T) {
	mk := func(seq int64, qid, format string, correct bool) Observation {
		o := answer(seq, qid, correct)
		o.Payload.QuestionFormat = format
		return o
	}
	obs := []Observation{
		mk(1, "n1", "numeric", true),
		mk(2, "n2", "numeric", true),
		mk(3, "s1", "symbolic", false),
		mk(4, "s2", "symbolic", true),
	}

	p := ClassifyErrors(obs)
	assert.Equal(t, 0.5, p.Scores[VariableIntroductionStruggle])
	assert.Equal(t, []string{"s1"}, p.Examples[VariableIntroductionStruggle])

	// A gap under 0.30 scores nothing.
	obs[2] = mk(3, "s1", "symbolic", true)
	obs = append(obs, mk(5, "n3", "numeric", false), mk(6, "s3", "symbolic", false))
	assert.Zero(t, ClassifyErrors(obs).Scores[VariableIntroductionStruggle])
}

func TestClassifyErrors_ExplicitTags(t *testing.T) {
	var obs []Observation
	for i := int64(1); i <= 7; i++ {
		obs = append(obs, Observation{
			Seq:         i,
			QuestionID:  "q",
			Interaction: events.AnswerSubmitted,
			Payload:     events.CognitivePayload{ErrorClass: UnitDimensionMismatch},
			At:          t0,
		})
	}
	obs = append(obs, Observation{Seq: 8, Payload: events.CognitivePayload{ErrorClass: "NOT_A_TYPE"}, At: t0})

	p := ClassifyErrors(obs)
	assert.Equal(t, 1.0, p.Scores[UnitDimensionMismatch])
	assert.Len(t, p.Examples[UnitDimensionMismatch], maxExamples)
	assert.NotContains(t, p.Scores, "NOT_A_TYPE")
	assert.Len(t, p.Scores, len(ErrorTypes))
}

func toggle(seq int64, qid, interaction string, delta float64) Observation {
	return Observation{
		Seq:         seq,
		QuestionID:  qid,
		Interaction: interaction,
		Payload:     events.CognitivePayload{DeltaSuccess: delta},
		At:          t0.Add(time.Duration(seq) * time.Minute),
	}
}

func TestLearnPreferences(t *testing.T) {
	obs := []Observation{
		toggle(1, "q1", events.DiagramToggled, 0.2),
		answer(2, "q1", true),
		toggle(3, "q2", events.EquationToggled, 0),
		answer(4, "q2", false),
	}

	prefs, mark := LearnPreferences(obs, nil, 0)
	assert.InDelta(t, 0.5, prefs[events.ModalityDiagram], 1e-9)
	assert.InDelta(t, 0.4, prefs[events.ModalityEquations], 1e-9)
	assert.InDelta(t, 0.4, prefs[events.ModalityExamples], 1e-9)
	assert.Equal(t, int64(4), mark)
}

func TestLearnPreferences_Watermark(t *testing.T) {
	obs := []Observation{
		toggle(1, "q1", events.DiagramToggled, 0.2),
		answer(2, "q1", true),
	}
	prefs, mark := LearnPreferences(obs, nil, 0)

	// Replaying the same log with the stored watermark changes nothing.
	again, mark2 := LearnPreferences(obs, prefs, mark)
	assert.Equal(t, prefs, again)
	assert.Equal(t, mark, mark2)

	// A new correct answer on q1 still sees the earlier diagram toggle.
	obs = append(obs, answer(3, "q1", true))
	next, _ := LearnPreferences(obs, prefs, mark)
	assert.InDelta(t, prefs[events.ModalityDiagram]+preferenceNudge, next[events.ModalityDiagram], 1e-9)
}

func TestLearnPreferences_FasterAnswer(t *testing.T) {
	slow := answer(1, "q1", false)
	slow.Payload.TimeSpentMS = floatPtr(9000)
	fast := answer(3, "q1", false)
	fast.Payload.TimeSpentMS = floatPtr(4000)
	obs := []Observation{slow, toggle(2, "q1", events.StepReveal, 0), fast}

	prefs, _ := LearnPreferences(obs, nil, 0)
	assert.InDelta(t, 0.45, prefs[events.ModalityStepByStep], 1e-9)
}

func TestLearnPreferences_Clamped(t *testing.T) {
	var obs []Observation
	for i := int64(1); i <= 20; i++ {
		obs = append(obs, toggle(i, "", events.RephraseRequested, 1))
	}
	prefs, _ := LearnPreferences(obs, nil, 0)
	assert.Equal(t, preferenceCeiling, prefs[events.ModalityExamples])
}

func TestRollUpConcepts(t *testing.T) {
	wrong := answer(1, "q1", false)
	wrong.Tags = []string{"limits"}
	wrong.Payload.ErrorClass = AlgebraSlip
	wrong.Payload.FormatVariation = true
	right := answer(2, "q1", true)
	right.Tags = []string{"limits", "series"}

	rows := RollUpConcepts("u1", []Observation{right, wrong}, []string{"extra"}, t0)
	byTag := make(map[string]store.FingerprintConcept)
	for _, r := range rows {
		byTag[r.ConceptTag] = r
	}
	assert.Len(t, rows, 3)

	l := byTag["limits"]
	assert.Equal(t, int64(2), l.Exposures)
	assert.Equal(t, int64(1), l.SuccessCount)
	assert.Equal(t, int64(1), l.FailCount)
	assert.InDelta(t, 0.3, l.Strength, 1e-9)
	assert.InDelta(t, 0.35, l.Fragility, 1e-9)
	assert.Equal(t, []string{AlgebraSlip}, l.LastFailModes)
	assert.Equal(t, right.At, *l.LastSeenAt)

	s := byTag["series"]
	assert.InDelta(t, 0.35, s.Strength, 1e-9)

	e := byTag["extra"]
	assert.Zero(t, e.Exposures)
	assert.Equal(t, conceptStartStrength, e.Strength)
	assert.Nil(t, e.LastSeenAt)
}

func TestRollUpConcepts_FailModeMemory(t *testing.T) {
	var obs []Observation
	for i, mode := range []string{AlgebraSlip, IntuitionFailure, Overgeneralization, MisreadingQuestion} {
		o := answer(int64(i+1), "q", false)
		o.Tags = []string{"t"}
		o.Payload.ErrorClass = mode
		obs = append(obs, o)
	}
	rows := RollUpConcepts("u1", obs, nil, t0)
	assert.Equal(t, []string{IntuitionFailure, Overgeneralization, MisreadingQuestion}, rows[0].LastFailModes)
}

func TestHotspotsAndInsights(t *testing.T) {
	scores := map[string]float64{
		AlgebraSlip:           0.333,
		IntuitionFailure:      0.75,
		Overgeneralization:    0.1,
		UnitDimensionMismatch: 0.2,
		MisreadingQuestion:    0.05,
	}
	hs := Hotspots(scores, map[string][]string{AlgebraSlip: {"q7"}})
	assert.Len(t, hs, 4)
	assert.Equal(t, IntuitionFailure, hs[0].ErrorType)
	assert.Equal(t, AlgebraSlip, hs[1].ErrorType)
	assert.Equal(t, []string{"q7"}, hs[1].Examples)
	assert.Equal(t, []string{}, hs[0].Examples)

	prefs := map[string]float64{
		events.ModalityDiagram:    0.8,
		events.ModalityEquations:  0.2,
		events.ModalityExamples:   0.4,
		events.ModalityStepByStep: 0.4,
	}
	ins := Insights(hs, prefs)
	assert.Len(t, ins, maxInsights)
	assert.Equal(t, "intuition", ins[0].ID)
	assert.Equal(t, "algebra", ins[1].ID)
	assert.Equal(t, "Learns better from diagram", ins[2].Title)
}

func TestInsights_LowPreference(t *testing.T) {
	ins := Insights(nil, map[string]float64{events.ModalityEquations: 0.2})
	assert.Len(t, ins, 1)
	assert.Equal(t, "Responds less to equations", ins[0].Title)
	assert.Equal(t, "pref-equations", ins[0].ID)
}

func TestExplanationStyle(t *testing.T) {
	tests := []struct {
		name  string
		prefs map[string]float64
		want  string
	}{
		{"diagram dominates", map[string]float64{"diagram": 0.8, "equations": 0.3, "step_by_step": 0.3}, StyleDiagramFirst},
		{"equations over steps", map[string]float64{"diagram": 0.3, "equations": 0.5, "step_by_step": 0.4}, StyleEquationsFirst},
		{"steps high", map[string]float64{"diagram": 0.3, "equations": 0.3, "step_by_step": 0.7}, StyleStepByStep},
		{"defaults", DefaultPreferences(), StyleExampleFirst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExplanationStyle(tt.prefs))
		})
	}
}

func TestPersonalizationPlan_DiagramLearner(t *testing.T) {
	fu := &store.FingerprintUser{
		UserID:          "u1",
		ErrorTypeScores: map[string]float64{VariableIntroductionStruggle: 0.5},
		PreferenceScores: map[string]float64{
			events.ModalityDiagram:    0.8,
			events.ModalityEquations:  0.3,
			events.ModalityStepByStep: 0.3,
			events.ModalityExamples:   0.3,
		},
		UpdatedAt: t0,
	}
	s := Summarize(fu, nil, t0)
	plan := PersonalizationPlan(s, PlanContext{ConceptTags: []string{"limits"}})

	assert.Equal(t, StyleDiagramFirst, plan.ExplanationStyle)
	assert.Contains(t, plan.Interventions, errorInterventions[VariableIntroductionStruggle])
	assert.Contains(t, plan.Interventions, "Show a quick diagram before text.")
	assert.Equal(t, Practice{ConceptTags: []string{"limits"}, Type: DrillSpacedReview, Count: 3}, plan.NextPractice)
}

func TestPersonalizationPlan_WeakestConcepts(t *testing.T) {
	fu := &store.FingerprintUser{ErrorTypeScores: map[string]float64{Overgeneralization: 0.4}}
	concepts := []store.FingerprintConcept{
		{ConceptTag: "a", Strength: 0.1},
		{ConceptTag: "b", Strength: 0.2},
		{ConceptTag: "c", Strength: 0.5},
	}
	s := Summarize(fu, concepts, t0)
	plan := PersonalizationPlan(s, PlanContext{ConceptTags: []string{"ignored"}})

	assert.Equal(t, []string{"a", "b"}, plan.NextPractice.ConceptTags)
	assert.Equal(t, DrillVariation, plan.NextPractice.Type)
	assert.Equal(t, "Low strength", s.WeakConceptsDue[0].DueReason)
	assert.Equal(t, "Due for review", s.WeakConceptsDue[2].DueReason)
}

func TestPersonalizationPlan_NilSummary(t *testing.T) {
	plan := PersonalizationPlan(nil, PlanContext{})
	assert.Equal(t, StyleExampleFirst, plan.ExplanationStyle)
	assert.Empty(t, plan.Interventions)
	assert.Empty(t, plan.NextPractice.ConceptTags)
}
