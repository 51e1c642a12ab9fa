package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	require.NoError(t, err)
	return d
}

func TestDecodeGraph_QuizSubmittedDefaults(t *testing.T) {
	d := newTestDecoder(t)

	tests := []struct {
		name    string
		payload string
		want    QuizResult
	}{
		{
			name:    "explicit total and score",
			payload: `{"topicLabel":"Derivatives","total":5,"score":4,"perQuestion":[{"unanswered":false},{"unanswered":false},{"unanswered":false},{"unanswered":false},{"unanswered":false}]}`,
			want:    QuizResult{Total: 5, Score: 4},
		},
		{
			name:    "total from perQuestion, score from correct",
			payload: `{"topicLabel":"Derivatives","correct":2,"perQuestion":[{"unanswered":true},{},{}]}`,
			want:    QuizResult{Total: 3, Score: 2, Unanswered: 1},
		},
		{
			name:    "empty payload",
			payload: `{}`,
			want:    QuizResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, _, err := d.DecodeGraph(QuizSubmitted, []byte(tt.payload))
			require.NoError(t, err)
			a, ok := ev.(Activity)
			require.True(t, ok, "expected Activity, got %T", ev)
			assert.Equal(t, QuizSubmitted, a.EventType())
			assert.Equal(t, tt.want, a.Quiz)
		})
	}
}

func TestDecodeGraph_WrongTypedFieldIsDropped(t *testing.T) {
	d := newTestDecoder(t)

	ev, stored, err := d.DecodeGraph(VideoWatched, []byte(`{"topicLabel":"Limits","minutes":"ten","forceDelta":0.2}`))
	require.Error(t, err)

	var perr *PayloadError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"minutes"}, perr.Fields)

	a := ev.(Activity)
	assert.Equal(t, "Limits", a.TopicLabel)
	assert.Zero(t, a.Minutes)
	require.NotNil(t, a.ForceDelta)
	assert.InDelta(t, 0.2, *a.ForceDelta, 1e-9)
	assert.Equal(t, `{"forceDelta":0.2,"topicLabel":"Limits"}`, stored)
}

func TestDecodeGraph_UnparsableJSONBecomesEmpty(t *testing.T) {
	d := newTestDecoder(t)

	ev, stored, err := d.DecodeGraph(TopicOpened, []byte(`{not json`))
	require.Error(t, err)
	var perr *PayloadError
	require.True(t, errors.As(err, &perr))
	assert.Empty(t, perr.Fields)

	assert.Equal(t, "{}", stored)
	a, ok := ev.(Activity)
	require.True(t, ok)
	assert.Empty(t, a.TopicLabel)
}

func TestDecodeGraph_NonObjectPayload(t *testing.T) {
	d := newTestDecoder(t)

	_, stored, err := d.DecodeGraph(TopicOpened, []byte(`[1,2,3]`))
	require.Error(t, err)
	assert.Equal(t, "{}", stored)

	_, stored, err = d.DecodeGraph(TopicOpened, []byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, "{}", stored)

	_, stored, err = d.DecodeGraph(TopicOpened, nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", stored)
}

func TestDecodeGraph_StructuralVariants(t *testing.T) {
	d := newTestDecoder(t)

	tests := []struct {
		eventType string
		payload   string
		want      Event
	}{
		{TopicRenamed, `{"oldLabel":"Calc","newLabel":"Calculus"}`, Rename{OldLabel: "Calc", NewLabel: "Calculus"}},
		{TopicArchived, `{"topicLabel":"Calc"}`, ArchiveTopic{TopicLabel: "Calc"}},
		{TopicMerged, `{"fromLabel":"A","intoLabel":"B"}`, Merge{FromLabel: "A", IntoLabel: "B"}},
		{ConceptArchived, `{"conceptLabel":"Chain Rule"}`, ArchiveConcept{ConceptLabel: "Chain Rule"}},
		{ConceptCreated, `{"topicLabel":"Calc","conceptLabel":"Chain Rule"}`, CreateConcept{TopicLabel: "Calc", ConceptLabel: "Chain Rule"}},
		{
			EdgeArchived, `{"fromLabel":"A","toLabel":"Chain Rule","toType":"concept"}`,
			ArchiveEdge{
				From: Endpoint{Label: "A", Type: "topic"},
				To:   Endpoint{Label: "Chain Rule", Type: "concept"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			ev, _, err := d.DecodeGraph(tt.eventType, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
			assert.Equal(t, tt.eventType, ev.EventType())
		})
	}
}

func TestDecodeGraph_LensLink(t *testing.T) {
	d := newTestDecoder(t)

	ev, _, err := d.DecodeGraph(LensLinkCreated, []byte(`{
		"fromLabel":"Chain Rule","fromType":"concept","fromTopicLabel":"Calculus",
		"toLabel":"Physics","lensLabel":"applications"}`))
	require.NoError(t, err)

	l, ok := ev.(LensLink)
	require.True(t, ok)
	assert.Equal(t, "concept", l.From.Type)
	assert.Equal(t, "Calculus", l.From.TopicLabel)
	assert.Equal(t, "topic", l.To.Type)
	assert.Equal(t, "lens:applications", l.Reason())

	assert.Equal(t, "lens", LensLink{}.Reason())
}

func TestDecodeGraph_BadEndpointTypeDefaultsToTopic(t *testing.T) {
	d := newTestDecoder(t)

	ev, _, err := d.DecodeGraph(EdgeArchived, []byte(`{"fromLabel":"A","fromType":"widget","toLabel":"B"}`))
	var perr *PayloadError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"fromType"}, perr.Fields)
	assert.Equal(t, "topic", ev.(ArchiveEdge).From.Type)
}

func TestDecodeGraph_UnknownType(t *testing.T) {
	d := newTestDecoder(t)

	ev, stored, err := d.DecodeGraph("SOMETHING_ELSE", []byte(`{"topicLabel":"X"}`))
	require.NoError(t, err)
	assert.Equal(t, Unrecognized{Type: "SOMETHING_ELSE"}, ev)
	assert.Equal(t, `{"topicLabel":"X"}`, stored)
	assert.False(t, Known("SOMETHING_ELSE"))
	assert.True(t, Known(QuizSubmitted))
}

func TestTopicLabelOf(t *testing.T) {
	assert.Equal(t, "A", TopicLabelOf(Activity{TopicLabel: "A"}))
	assert.Equal(t, "Old", TopicLabelOf(Rename{OldLabel: "Old", NewLabel: "New"}))
	assert.Empty(t, TopicLabelOf(LensLink{}))
}

func TestDecodeCognitive(t *testing.T) {
	d := newTestDecoder(t)

	p, stored, err := d.DecodeCognitive(AnswerSubmitted, []byte(`{"correct":false,"confidence":5,"errorType":"ALGEBRA_SLIP","time_spent_ms":1200}`))
	require.NoError(t, err)
	assert.True(t, p.IsIncorrect())
	assert.False(t, p.IsCorrect())
	assert.Equal(t, "ALGEBRA_SLIP", p.ErrorClass)
	assert.InDelta(t, 5, p.Confidence, 1e-9)
	require.NotNil(t, p.TimeSpentMS)
	assert.InDelta(t, 1200, *p.TimeSpentMS, 1e-9)
	assert.Contains(t, stored, `"errorType":"ALGEBRA_SLIP"`)

	p, _, err = d.DecodeCognitive(AnswerSubmitted, []byte(`{"correct":"yes","error_class":"INTUITION_FAILURE"}`))
	require.Error(t, err)
	assert.Nil(t, p.Correct)
	assert.Equal(t, "INTUITION_FAILURE", p.ErrorClass)
}

func TestParseCognitivePayload_Corrupt(t *testing.T) {
	_, err := ParseCognitivePayload(`{"correct":`)
	assert.Error(t, err)

	p, err := ParseCognitivePayload("")
	require.NoError(t, err)
	assert.Nil(t, p.Correct)
}

func TestModalityOf(t *testing.T) {
	tests := map[string]string{
		DiagramToggled:    ModalityDiagram,
		EquationToggled:   ModalityEquations,
		StepReveal:        ModalityStepByStep,
		RephraseRequested: ModalityExamples,
	}
	for in, want := range tests {
		got, ok := ModalityOf(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ModalityOf(AnswerSubmitted)
	assert.False(t, ok)
}

func TestCleanTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, CleanTags([]string{" a", "", "b", "a "}))
	assert.Empty(t, CleanTags(nil))
}
