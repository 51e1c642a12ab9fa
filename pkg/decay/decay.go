// Package decay holds the pure time-decay rules of the knowledge graph:
// effective strength, review scheduling and structural edge decay.
// Nothing here touches storage; callers persist results where required.
package decay

import (
	"math"
	"time"

	"github.com/dan-solli/learngraph/pkg/store"
)

// ReviewThreshold is the effective strength below which an entity is due
// for review regardless of its schedule.
const ReviewThreshold = 0.25

const day = 24 * time.Hour

// Clamp01 restricts v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HalfLifeDays returns the decay half-life for an entity at the given stored
// strength. Topics decay slower than concepts.
//
//	strength   concept  topic
//	< 0.4      2d       3d
//	[0.4,0.7)  5d       7d
//	>= 0.7     10d      14d
func HalfLifeDays(kind store.EntityType, strength float64) float64 {
	topic := kind == store.EntityTopic
	switch {
	case strength < 0.4:
		if topic {
			return 3
		}
		return 2
	case strength < 0.7:
		if topic {
			return 7
		}
		return 5
	default:
		if topic {
			return 14
		}
		return 10
	}
}

// calculateDecay computes the exponential decay multiplier exp(-days/halfLife).
//
// Returns 1.0 for negative ages (clock skew between writer and reader) and
// for non-positive half-lives.
func calculateDecay(age time.Duration, halfLifeDays float64) float64 {
	if age < 0 {
		return 1.0
	}
	if halfLifeDays <= 0 {
		return 1.0
	}
	ageDays := age.Hours() / 24.0
	return math.Exp(-ageDays / halfLifeDays)
}

// EffectiveStrength projects stored strength forward to now:
// strength * exp(-daysSinceLastSeen / halfLife), clamped to [0, 1].
func EffectiveStrength(kind store.EntityType, strength float64, lastSeen, now time.Time) float64 {
	s := Clamp01(strength)
	return Clamp01(s * calculateDecay(now.Sub(lastSeen), HalfLifeDays(kind, s)))
}

// NeedsReview reports whether an entity is due: either its schedule has
// elapsed or its effective strength fell below ReviewThreshold. Each
// condition is sufficient on its own.
func NeedsReview(effective float64, nextReviewAt, now time.Time) bool {
	return !now.Before(nextReviewAt) || effective < ReviewThreshold
}

// ReviewInterval is the spacing until the next review for an entity at the
// given strength.
func ReviewInterval(kind store.EntityType, strength float64) time.Duration {
	topic := kind == store.EntityTopic
	switch {
	case strength < 0.35:
		return 1 * day
	case strength < 0.55:
		if topic {
			return 3 * day
		}
		return 2 * day
	case strength < 0.75:
		if topic {
			return 7 * day
		}
		return 5 * day
	default:
		if topic {
			return 14 * day
		}
		return 10 * day
	}
}

// NextReviewAt schedules the next review from now.
func NextReviewAt(kind store.EntityType, strength float64, now time.Time) time.Time {
	return now.Add(ReviewInterval(kind, strength))
}

// EdgePolicy describes lazy structural decay of inferred edges.
type EdgePolicy struct {
	StaleAfter time.Duration // minimum age of updatedAt before decay applies
	Factor     float64       // multiplier applied once per stale read
	Floor      float64       // weights below this are archived
}

// DefaultEdgePolicy decays edges untouched for 30 days by 10% per read and
// archives them under 0.08.
var DefaultEdgePolicy = EdgePolicy{
	StaleAfter: 30 * day,
	Factor:     0.9,
	Floor:      0.08,
}

// EdgeOutcome is the result of applying the policy to one edge.
type EdgeOutcome struct {
	Weight  float64
	Decayed bool
	Archive bool
}

// Apply decays one edge. belongs_to edges never decay.
func (p EdgePolicy) Apply(reason string, weight float64, updatedAt, now time.Time) EdgeOutcome {
	if reason == store.ReasonBelongsTo {
		return EdgeOutcome{Weight: weight}
	}
	if now.Sub(updatedAt) < p.StaleAfter {
		return EdgeOutcome{Weight: weight}
	}
	w := Clamp01(weight * p.Factor)
	return EdgeOutcome{Weight: w, Decayed: true, Archive: w < p.Floor}
}
