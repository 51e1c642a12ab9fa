// Package fingerprint derives a learner's cognitive fingerprint from their
// raw interaction log: recurring error types, modality preferences and a
// per-concept roll-up, summarized into insights and a personalization plan.
//
// Everything here is a view over the log. Recomputation is wholesale and
// idempotent; the log is the source of truth.
package fingerprint

import (
	"math"
	"sort"
	"time"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/events"
)

// Error types.
const (
	AlgebraSlip                  = "ALGEBRA_SLIP"
	VariableIntroductionStruggle = "VARIABLE_INTRODUCTION_STRUGGLE"
	DefinitionsVsApplications    = "DEFINITIONS_VS_APPLICATIONS_CONFUSION"
	IntuitionFailure             = "INTUITION_FAILURE"
	UnitDimensionMismatch        = "UNIT_DIMENSION_MISMATCH"
	Overgeneralization           = "OVERGENERALIZATION"
	WorkingMemoryOverload        = "WORKING_MEMORY_OVERLOAD"
	MisreadingQuestion           = "MISREADING_QUESTION"
)

// ErrorTypes lists every error type in a stable order.
var ErrorTypes = []string{
	AlgebraSlip,
	VariableIntroductionStruggle,
	DefinitionsVsApplications,
	IntuitionFailure,
	UnitDimensionMismatch,
	Overgeneralization,
	WorkingMemoryOverload,
	MisreadingQuestion,
}

func knownErrorType(t string) bool {
	for _, et := range ErrorTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Classification rule constants.
const (
	symbolicGapThreshold = 0.30
	confidentWrongMin    = 4
	intuitionDivisor     = 4.0
	slipDivisor          = 3.0
	taggedDivisor        = 3.0
	maxExamples          = 5
	unknownQuestion      = "unknown"
)

// Observation is one logged interaction with its payload decoded.
type Observation struct {
	Seq         int64
	QuestionID  string
	Interaction string
	Tags        []string
	Payload     events.CognitivePayload
	At          time.Time
}

// ErrorProfile is the outcome of error classification.
type ErrorProfile struct {
	Scores   map[string]float64
	Examples map[string][]string
}

type exampleLog map[string][]string

func (l exampleLog) add(errorType, questionID string) {
	if questionID == "" {
		questionID = unknownQuestion
	}
	ex := append(l[errorType], questionID)
	if len(ex) > maxExamples {
		ex = ex[len(ex)-maxExamples:]
	}
	l[errorType] = ex
}

// sortObservations orders observations chronologically, breaking ties by
// log sequence.
func sortObservations(obs []Observation) []Observation {
	out := append([]Observation(nil), obs...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ClassifyErrors scores every error type over the observations:
//
//   - explicit error_class tags count directly, normalized by 3
//   - VARIABLE_INTRODUCTION_STRUGGLE is the numeric minus symbolic accuracy
//     gap when it reaches 0.30
//   - INTUITION_FAILURE counts wrong answers given with confidence >= 4,
//     normalized by 4
//   - ALGEBRA_SLIP counts wrong answers immediately followed by a correct
//     answer on the same question, normalized by 3
//
// Scores are clamped to [0, 1] and rounded to three decimals.
func ClassifyErrors(obs []Observation) ErrorProfile {
	counts := make(map[string]float64, len(ErrorTypes))
	examples := make(exampleLog)

	var numericTotal, numericCorrect, symbolicTotal, symbolicCorrect int
	var symbolicMisses []string
	lastOutcome := make(map[string]*bool)

	for _, o := range sortObservations(obs) {
		p := o.Payload

		if p.ErrorClass != "" && knownErrorType(p.ErrorClass) {
			counts[p.ErrorClass]++
			examples.add(p.ErrorClass, o.QuestionID)
		}

		if o.Interaction != events.AnswerSubmitted {
			continue
		}

		switch p.QuestionFormat {
		case "numeric":
			numericTotal++
			if p.IsCorrect() {
				numericCorrect++
			}
		case "symbolic":
			symbolicTotal++
			if p.IsCorrect() {
				symbolicCorrect++
			} else if o.QuestionID != "" {
				symbolicMisses = append(symbolicMisses, o.QuestionID)
			}
		}

		if p.IsIncorrect() && p.Confidence >= confidentWrongMin {
			counts[IntuitionFailure]++
			examples.add(IntuitionFailure, o.QuestionID)
		}

		if o.QuestionID != "" {
			if last := lastOutcome[o.QuestionID]; last != nil && !*last && p.IsCorrect() {
				counts[AlgebraSlip]++
				examples.add(AlgebraSlip, o.QuestionID)
			}
			lastOutcome[o.QuestionID] = p.Correct
		}
	}

	scores := make(map[string]float64, len(ErrorTypes))
	for _, t := range ErrorTypes {
		divisor := taggedDivisor
		switch t {
		case IntuitionFailure:
			divisor = intuitionDivisor
		case AlgebraSlip:
			divisor = slipDivisor
		}
		scores[t] = decay.Clamp01(counts[t] / divisor)
	}

	gap := rate(numericCorrect, numericTotal) - rate(symbolicCorrect, symbolicTotal)
	if gap >= symbolicGapThreshold {
		scores[VariableIntroductionStruggle] = math.Max(scores[VariableIntroductionStruggle], decay.Clamp01(gap))
		for _, q := range symbolicMisses {
			examples.add(VariableIntroductionStruggle, q)
		}
	}

	for t, v := range scores {
		scores[t] = round3(v)
	}
	return ErrorProfile{Scores: scores, Examples: examples}
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
