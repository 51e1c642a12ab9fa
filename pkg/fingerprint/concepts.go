package fingerprint

import (
	"time"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/store"
)

const (
	conceptStartStrength  = 0.3
	conceptStartFragility = 0.3
	conceptStep           = 0.05
	conceptHalfLifeDays   = 5
	failModeMemory        = 3
)

// RollUpConcepts builds one row per concept tag found in the observations or
// in extra. A tag with no observations still gets a row at the starting
// values.
func RollUpConcepts(userID string, obs []Observation, extra []string, now time.Time) []store.FingerprintConcept {
	var tags []string
	seen := make(map[string]bool)
	addTag := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, t := range extra {
		addTag(t)
	}
	ordered := sortObservations(obs)
	for _, o := range ordered {
		for _, t := range o.Tags {
			addTag(t)
		}
	}

	rows := make(map[string]*store.FingerprintConcept, len(tags))
	for _, t := range tags {
		rows[t] = &store.FingerprintConcept{
			UserID:       userID,
			ConceptTag:   t,
			Strength:     conceptStartStrength,
			Fragility:    conceptStartFragility,
			HalfLifeDays: conceptHalfLifeDays,
			UpdatedAt:    now,
		}
	}

	for _, o := range ordered {
		at := o.At
		for _, t := range o.Tags {
			r := rows[t]
			if r == nil {
				continue
			}
			r.Exposures++
			r.LastSeenAt = &at
			r.LastPracticedAt = &at

			p := o.Payload
			switch {
			case p.IsCorrect():
				r.SuccessCount++
				r.Strength += conceptStep
			case p.IsIncorrect():
				r.FailCount++
				r.Strength -= conceptStep
				if p.ErrorClass != "" {
					r.LastFailModes = append(r.LastFailModes, p.ErrorClass)
				}
				if p.FormatVariation {
					r.Fragility += conceptStep
				}
			}
		}
	}

	out := make([]store.FingerprintConcept, 0, len(tags))
	for _, t := range tags {
		r := rows[t]
		r.Strength = decay.Clamp01(r.Strength)
		r.Fragility = decay.Clamp01(r.Fragility)
		if n := len(r.LastFailModes); n > failModeMemory {
			r.LastFailModes = r.LastFailModes[n-failModeMemory:]
		}
		out = append(out, *r)
	}
	return out
}
