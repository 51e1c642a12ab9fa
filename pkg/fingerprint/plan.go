package fingerprint

import "github.com/dan-solli/learngraph/pkg/events"

// Explanation styles.
const (
	StyleDiagramFirst   = "diagram_first"
	StyleEquationsFirst = "equations_first"
	StyleStepByStep     = "step_by_step"
	StyleExampleFirst   = "example_first"
)

// Practice drill types.
const (
	DrillVariation     = "variation_drill"
	DrillSpacedReview  = "spaced_review"
	practiceCount      = 3
	practiceConcepts   = 2
	stepByStepMinScore = 0.5
)

var errorInterventions = map[string]string{
	VariableIntroductionStruggle: "Introduce variables gradually after numeric walkthrough.",
	DefinitionsVsApplications:    "Do definition drill then apply to two examples.",
	IntuitionFailure:             "Ask for a prediction before revealing the answer.",
	AlgebraSlip:                  "Check each algebra step before moving on.",
	UnitDimensionMismatch:        "Annotate units on every quantity.",
	Overgeneralization:           "Contrast the rule with a case where it fails.",
	WorkingMemoryOverload:        "Break the problem into smaller written steps.",
	MisreadingQuestion:           "Highlight what the question asks before solving.",
}

var highPreferenceInterventions = []struct {
	modality, text string
}{
	{events.ModalityDiagram, "Show a quick diagram before text."},
	{events.ModalityStepByStep, "Reveal steps one by one."},
	{events.ModalityEquations, "Write the governing equation first."},
	{events.ModalityExamples, "Open with a worked example."},
}

// PlanContext carries what the caller is about to teach.
type PlanContext struct {
	ConceptTags []string `json:"concept_tags,omitempty"`
}

// Practice is the next drill to run.
type Practice struct {
	ConceptTags []string `json:"concept_tags"`
	Type        string   `json:"type"`
	Count       int      `json:"count"`
}

// Plan is a personalization directive for tutoring.
type Plan struct {
	ExplanationStyle string   `json:"explanation_style"`
	Interventions    []string `json:"interventions"`
	NextPractice     Practice `json:"next_practice"`
}

// ExplanationStyle picks the style from whichever preference dominates.
func ExplanationStyle(prefs map[string]float64) string {
	diagram := prefs[events.ModalityDiagram]
	equations := prefs[events.ModalityEquations]
	steps := prefs[events.ModalityStepByStep]
	switch {
	case diagram > equations && diagram > steps:
		return StyleDiagramFirst
	case equations > steps:
		return StyleEquationsFirst
	case steps > stepByStepMinScore:
		return StyleStepByStep
	default:
		return StyleExampleFirst
	}
}

// PersonalizationPlan derives a plan from a summary. A nil summary plans
// from default preferences.
func PersonalizationPlan(s *Summary, pc PlanContext) Plan {
	prefs := DefaultPreferences()
	var weak []WeakConcept
	if s != nil {
		for k, v := range s.Preferences {
			prefs[k] = v
		}
		weak = s.WeakConceptsDue
	}
	dominant := s.DominantError()

	interventions := []string{}
	if text, ok := errorInterventions[dominant]; ok {
		interventions = append(interventions, text)
	}
	for _, hp := range highPreferenceInterventions {
		if prefs[hp.modality] > preferenceHigh {
			interventions = append(interventions, hp.text)
		}
	}

	tags := make([]string, 0, practiceConcepts)
	for _, w := range weak {
		if len(tags) == practiceConcepts {
			break
		}
		tags = append(tags, w.ConceptTag)
	}
	if len(tags) == 0 {
		tags = append(tags, pc.ConceptTags...)
	}

	drill := DrillSpacedReview
	if dominant == Overgeneralization {
		drill = DrillVariation
	}

	return Plan{
		ExplanationStyle: ExplanationStyle(prefs),
		Interventions:    interventions,
		NextPractice:     Practice{ConceptTags: tags, Type: drill, Count: practiceCount},
	}
}
