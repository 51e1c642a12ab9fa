package events

import (
	"fmt"
	"strings"

	"github.com/dan-solli/learngraph/pkg/jsonx"
)

// Cognitive interaction types. The set is open; these are the ones the
// fingerprint rules look at.
const (
	AnswerSubmitted   = "ANSWER_SUBMITTED"
	DiagramToggled    = "DIAGRAM_TOGGLED"
	EquationToggled   = "EQUATION_TOGGLED"
	StepReveal        = "STEP_REVEAL"
	RephraseRequested = "REPHRASE_REQUESTED"
)

// Modalities a learner can prefer.
const (
	ModalityDiagram    = "diagram"
	ModalityEquations  = "equations"
	ModalityExamples   = "examples"
	ModalityStepByStep = "step_by_step"
)

// Modalities lists every modality in a stable order.
var Modalities = []string{ModalityDiagram, ModalityEquations, ModalityExamples, ModalityStepByStep}

// ModalityOf maps a toggle interaction to the modality it signals.
func ModalityOf(interactionType string) (string, bool) {
	switch interactionType {
	case DiagramToggled:
		return ModalityDiagram, true
	case EquationToggled:
		return ModalityEquations, true
	case StepReveal:
		return ModalityStepByStep, true
	case RephraseRequested:
		return ModalityExamples, true
	}
	return "", false
}

// Interaction is one learner interaction to record for fingerprinting.
type Interaction struct {
	UserID      string   `json:"user_id"`
	SessionID   string   `json:"session_id,omitempty"`
	CourseID    string   `json:"course_id,omitempty"`
	ConceptTags []string `json:"concept_tags,omitempty"`
	QuestionID  string   `json:"question_id,omitempty"`
	Type        string   `json:"interaction_type"`
	Payload     []byte   `json:"-"`
}

// CleanTags trims tags and drops empty and repeated ones, keeping order.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// CognitivePayload is the typed view of an interaction payload.
type CognitivePayload struct {
	// Correct is nil when the interaction carries no outcome.
	Correct         *bool
	QuestionFormat  string
	Confidence      float64
	TimeSpentMS     *float64
	ErrorClass      string
	FormatVariation bool
	DeltaSuccess    float64
}

// IsCorrect reports an explicit correct outcome.
func (p CognitivePayload) IsCorrect() bool { return p.Correct != nil && *p.Correct }

// IsIncorrect reports an explicit incorrect outcome.
func (p CognitivePayload) IsIncorrect() bool { return p.Correct != nil && !*p.Correct }

type cognitiveWire struct {
	Correct         *bool    `json:"correct"`
	QuestionFormat  string   `json:"question_format"`
	Confidence      float64  `json:"confidence"`
	TimeSpentMS     *float64 `json:"time_spent_ms"`
	ErrorClass      string   `json:"error_class"`
	ErrorType       string   `json:"errorType"`
	FormatVariation bool     `json:"format_variation"`
	DeltaSuccess    float64  `json:"delta_success"`
}

// ParseCognitivePayload decodes a stored, already sanitized payload. An error
// here means the log row is corrupt.
func ParseCognitivePayload(s string) (CognitivePayload, error) {
	if s == "" {
		return CognitivePayload{}, nil
	}
	var w cognitiveWire
	if err := jsonx.UnmarshalFromString(s, &w); err != nil {
		return CognitivePayload{}, fmt.Errorf("failed to decode cognitive payload: %w", err)
	}
	p := CognitivePayload{
		Correct:         w.Correct,
		QuestionFormat:  w.QuestionFormat,
		Confidence:      w.Confidence,
		TimeSpentMS:     w.TimeSpentMS,
		ErrorClass:      w.ErrorClass,
		FormatVariation: w.FormatVariation,
		DeltaSuccess:    w.DeltaSuccess,
	}
	if p.ErrorClass == "" {
		p.ErrorClass = w.ErrorType
	}
	return p, nil
}
