package fingerprint

import (
	"math"

	"github.com/dan-solli/learngraph/pkg/events"
)

const (
	defaultPreference = 0.4
	preferenceNudge   = 0.05
	preferenceFloor   = 0.1
	preferenceCeiling = 0.9
	globalQuestion    = "global"
)

// DefaultPreferences returns the starting preference scores.
func DefaultPreferences() map[string]float64 {
	out := make(map[string]float64, len(events.Modalities))
	for _, m := range events.Modalities {
		out[m] = defaultPreference
	}
	return out
}

type questionState struct {
	toggled      map[string]bool
	lastModality string
	bestTime     float64
	timed        bool
}

// LearnPreferences replays the observations and nudges modality scores:
//
//   - a toggle whose payload reports delta_success > 0 nudges its modality
//   - a correct answer nudges every modality toggled on that question
//   - an answer faster than the question's previous best nudges the most
//     recently toggled modality
//
// Scores start from prev (missing modalities at the default) and every nudge
// is clamped to [0.1, 0.9]. Per-question state is rebuilt from the whole
// window, but only observations with Seq above watermark apply nudges, so
// re-running over the same log never double-counts. The returned watermark
// is the highest Seq seen.
func LearnPreferences(obs []Observation, prev map[string]float64, watermark int64) (map[string]float64, int64) {
	prefs := DefaultPreferences()
	for k, v := range prev {
		prefs[k] = v
	}

	nudge := func(modality string) {
		prefs[modality] = math.Min(preferenceCeiling, math.Max(preferenceFloor, prefs[modality]+preferenceNudge))
	}

	state := make(map[string]*questionState)
	mark := watermark
	for _, o := range sortObservations(obs) {
		fresh := o.Seq > watermark
		if o.Seq > mark {
			mark = o.Seq
		}

		qid := o.QuestionID
		if qid == "" {
			qid = globalQuestion
		}
		qs := state[qid]
		if qs == nil {
			qs = &questionState{toggled: make(map[string]bool)}
			state[qid] = qs
		}

		if modality, ok := events.ModalityOf(o.Interaction); ok {
			qs.toggled[modality] = true
			qs.lastModality = modality
			if fresh && o.Payload.DeltaSuccess > 0 {
				nudge(modality)
			}
			continue
		}

		if o.Interaction != events.AnswerSubmitted {
			continue
		}

		if fresh && o.Payload.IsCorrect() {
			for _, m := range events.Modalities {
				if qs.toggled[m] {
					nudge(m)
				}
			}
		}

		if t := o.Payload.TimeSpentMS; t != nil && !math.IsNaN(*t) && !math.IsInf(*t, 0) {
			if fresh && qs.timed && *t < qs.bestTime && qs.lastModality != "" {
				nudge(qs.lastModality)
			}
			if !qs.timed || *t < qs.bestTime {
				qs.bestTime = *t
			}
			qs.timed = true
		}
	}
	return prefs, mark
}
