package fingerprint

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/store"
)

const (
	maxHotspots          = 4
	maxErrorInsights     = 2
	maxPreferenceInsight = 2
	maxInsights          = 3
	insightMinScore      = 0.3
	preferenceHigh       = 0.6
	preferenceLow        = 0.25
	lowStrength          = 0.4
)

// Insight is one human-readable finding about a learner.
type Insight struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	Evidence              string  `json:"evidence"`
	Confidence            float64 `json:"confidence"`
	SuggestedIntervention string  `json:"suggested_intervention"`
}

// Hotspot is one scored error type with its evidence.
type Hotspot struct {
	ErrorType string   `json:"error_type"`
	Score     float64  `json:"score"`
	Examples  []string `json:"examples"`
}

// WeakConcept is a concept tag that needs attention.
type WeakConcept struct {
	ConceptTag string     `json:"concept_tag"`
	Strength   float64    `json:"strength"`
	Fragility  float64    `json:"fragility"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	DueReason  string     `json:"due_reason"`
}

// Summary is the learner-facing fingerprint read model.
type Summary struct {
	TopInsights     []Insight          `json:"top_insights"`
	ErrorHotspots   []Hotspot          `json:"error_hotspots"`
	WeakConceptsDue []WeakConcept      `json:"weak_concepts_due"`
	Preferences     map[string]float64 `json:"preferences"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Clone returns a copy of s that shares no slices or maps with it.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	c.TopInsights = slices.Clone(s.TopInsights)
	c.WeakConceptsDue = slices.Clone(s.WeakConceptsDue)
	c.Preferences = maps.Clone(s.Preferences)
	c.ErrorHotspots = make([]Hotspot, len(s.ErrorHotspots))
	for i, h := range s.ErrorHotspots {
		h.Examples = slices.Clone(h.Examples)
		c.ErrorHotspots[i] = h
	}
	if s.ErrorHotspots == nil {
		c.ErrorHotspots = nil
	}
	return &c
}

// DominantError is the highest-scoring error type, or "" when none scored.
func (s *Summary) DominantError() string {
	if s == nil || len(s.ErrorHotspots) == 0 {
		return ""
	}
	return s.ErrorHotspots[0].ErrorType
}

type insightTemplate struct {
	id, title, evidence, intervention string
}

var errorInsights = map[string]insightTemplate{
	VariableIntroductionStruggle: {
		"variables", "Struggles when variables are introduced",
		"Accuracy on symbolic questions is much lower than numeric.",
		"Start numeric, then introduce variables with scaffolding.",
	},
	IntuitionFailure: {
		"intuition", "High confidence but incorrect answers suggest intuition gaps",
		"Multiple confident but wrong submissions detected.",
		"Ground with concrete examples before abstractions.",
	},
	AlgebraSlip: {
		"algebra", "Algebra slips detected",
		"Wrong then immediate correct retries on the same question.",
		"Slow symbolic steps; check signs/constants.",
	},
	DefinitionsVsApplications: {
		"definitions", "Knows definitions but struggles to apply them",
		"Errors tagged as definition versus application confusion.",
		"Pair each definition with two worked applications.",
	},
	UnitDimensionMismatch: {
		"units", "Units and dimensions get mixed up",
		"Errors tagged as unit or dimension mismatches.",
		"Carry units through every step and check them at the end.",
	},
	Overgeneralization: {
		"overgeneralization", "Applies rules beyond where they hold",
		"Errors tagged as overgeneralization.",
		"Practice edge cases where the familiar rule breaks.",
	},
	WorkingMemoryOverload: {
		"working-memory", "Long multi-step problems overload working memory",
		"Errors tagged as working memory overload.",
		"Chunk problems and write down intermediate results.",
	},
	MisreadingQuestion: {
		"misreading", "Questions are sometimes misread",
		"Errors tagged as misreading the question.",
		"Restate the question in your own words before answering.",
	},
}

var preferenceInterventions = map[string]string{
	events.ModalityDiagram:    "Lead with visuals.",
	events.ModalityEquations:  "Show formal steps first.",
	events.ModalityStepByStep: "Reveal steps gradually.",
	events.ModalityExamples:   "Use concrete examples first.",
}

func modalityName(m string) string {
	return strings.ReplaceAll(m, "_", " ")
}

// Hotspots returns the top scoring error types, highest first. Types that
// never scored are left out.
func Hotspots(scores map[string]float64, examples map[string][]string) []Hotspot {
	out := make([]Hotspot, 0, len(scores))
	for _, t := range ErrorTypes {
		if scores[t] <= 0 {
			continue
		}
		ex := examples[t]
		if ex == nil {
			ex = []string{}
		}
		out = append(out, Hotspot{ErrorType: t, Score: scores[t], Examples: ex})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxHotspots {
		out = out[:maxHotspots]
	}
	return out
}

// Insights turns hotspots and preference extremes into at most three
// findings: up to two from errors scoring at least 0.3, then up to two from
// preferences at or above 0.6 or at or below 0.25.
func Insights(hotspots []Hotspot, prefs map[string]float64) []Insight {
	out := make([]Insight, 0, maxInsights)

	n := 0
	for _, h := range hotspots {
		if n == maxErrorInsights {
			break
		}
		if h.Score < insightMinScore {
			continue
		}
		tpl, ok := errorInsights[h.ErrorType]
		if !ok {
			continue
		}
		out = append(out, Insight{
			ID:                    tpl.id,
			Title:                 tpl.title,
			Evidence:              tpl.evidence,
			Confidence:            decay.Clamp01(h.Score),
			SuggestedIntervention: tpl.intervention,
		})
		n++
	}

	n = 0
	for _, m := range events.Modalities {
		if n == maxPreferenceInsight {
			break
		}
		v, ok := prefs[m]
		if !ok || (v < preferenceHigh && v > preferenceLow) {
			continue
		}
		in := Insight{
			ID:         "pref-" + m,
			Evidence:   fmt.Sprintf("Preference score %d%%.", int(math.Round(v*100))),
			Confidence: decay.Clamp01(math.Abs(v - defaultPreference)),
		}
		if v >= preferenceHigh {
			in.Title = "Learns better from " + modalityName(m)
			in.SuggestedIntervention = preferenceInterventions[m]
		} else {
			in.Title = "Responds less to " + modalityName(m)
			in.SuggestedIntervention = "Try another modality before " + modalityName(m) + "."
		}
		out = append(out, in)
		n++
	}

	if len(out) > maxInsights {
		out = out[:maxInsights]
	}
	return out
}

// WeakConcepts maps concept rows, weakest first, to due entries.
func WeakConcepts(rows []store.FingerprintConcept) []WeakConcept {
	out := make([]WeakConcept, 0, len(rows))
	for _, r := range rows {
		reason := "Due for review"
		if r.Strength < lowStrength {
			reason = "Low strength"
		}
		out = append(out, WeakConcept{
			ConceptTag: r.ConceptTag,
			Strength:   r.Strength,
			Fragility:  r.Fragility,
			LastSeenAt: r.LastSeenAt,
			DueReason:  reason,
		})
	}
	return out
}

// Summarize assembles the read model from the stored rows. A nil user row
// yields default preferences and no hotspots.
func Summarize(fu *store.FingerprintUser, concepts []store.FingerprintConcept, now time.Time) *Summary {
	s := &Summary{
		Preferences:     DefaultPreferences(),
		ErrorHotspots:   []Hotspot{},
		WeakConceptsDue: WeakConcepts(concepts),
		UpdatedAt:       now,
	}
	if fu != nil {
		for k, v := range fu.PreferenceScores {
			s.Preferences[k] = v
		}
		s.ErrorHotspots = Hotspots(fu.ErrorTypeScores, fu.ErrorExamples)
		s.UpdatedAt = fu.UpdatedAt
	}
	s.TopInsights = Insights(s.ErrorHotspots, s.Preferences)
	return s
}

// ConceptBreakdown is one per-concept row of the breakdown read model.
type ConceptBreakdown struct {
	ConceptTag      string     `json:"concept_tag"`
	Strength        float64    `json:"strength"`
	Fragility       float64    `json:"fragility"`
	Exposures       int64      `json:"exposures"`
	SuccessCount    int64      `json:"success_count"`
	FailCount       int64      `json:"fail_count"`
	LastSeenAt      *time.Time `json:"last_seen_at"`
	LastPracticedAt *time.Time `json:"last_practiced_at"`
	LastFailModes   []string   `json:"last_fail_modes"`
}

func breakdownOf(rows []store.FingerprintConcept) []ConceptBreakdown {
	out := make([]ConceptBreakdown, 0, len(rows))
	for _, r := range rows {
		modes := r.LastFailModes
		if modes == nil {
			modes = []string{}
		}
		out = append(out, ConceptBreakdown{
			ConceptTag:      r.ConceptTag,
			Strength:        r.Strength,
			Fragility:       r.Fragility,
			Exposures:       r.Exposures,
			SuccessCount:    r.SuccessCount,
			FailCount:       r.FailCount,
			LastSeenAt:      r.LastSeenAt,
			LastPracticedAt: r.LastPracticedAt,
			LastFailModes:   modes,
		})
	}
	return out
}
