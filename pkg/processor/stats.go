package processor

import (
	"math"
	"time"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/store"
)

// Stat delta constants.
const (
	quizAccuracyPivot = 0.5
	quizDeltaScale    = 0.25
	quizSkipPenalty   = 0.05
	reviewedAccuracy  = 0.8

	videoDeltaCap      = 0.05
	videoMinutesPerPt  = 600.0
	canvasDeltaCap     = 0.08
	canvasMinutesPerPt = 300.0

	touchDelta = 0.01
)

// StatDelta is the strength change an activity produces before clamping.
// An explicit ForceDelta always wins.
func StatDelta(a events.Activity) float64 {
	if a.ForceDelta != nil {
		return *a.ForceDelta
	}
	switch a.Type {
	case events.QuizSubmitted:
		accuracy, skipRate := quizRates(a.Quiz)
		return (accuracy-quizAccuracyPivot)*quizDeltaScale - skipRate*quizSkipPenalty
	case events.VideoWatched:
		return math.Min(videoDeltaCap, a.Minutes/videoMinutesPerPt)
	case events.CanvasUsed:
		return math.Min(canvasDeltaCap, a.Minutes/canvasMinutesPerPt)
	case events.TopicOpened, events.QuizGenerated:
		return touchDelta
	}
	return 0
}

func quizRates(q events.QuizResult) (accuracy, skipRate float64) {
	if q.Total <= 0 {
		return 0, 0
	}
	total := float64(q.Total)
	return float64(q.Score) / total, float64(q.Unanswered) / total
}

// ApplyActivity returns s updated by one activity: counters, exposure,
// clamped strength and a review date recomputed from the new strength.
func ApplyActivity(s store.Stats, a events.Activity, now time.Time) store.Stats {
	out := s
	out.Exposures++
	out.LastSeenAt = now

	switch a.Type {
	case events.QuizSubmitted:
		q := a.Quiz
		out.CorrectCount += int64(q.Score)
		out.IncorrectCount += int64(max(q.Total-q.Score-q.Unanswered, 0))
		out.SkipCount += int64(q.Unanswered)
		if accuracy, _ := quizRates(q); accuracy >= reviewedAccuracy {
			reviewed := now
			out.LastReviewedAt = &reviewed
		}
	case events.VideoWatched, events.CanvasUsed:
		out.MinutesSpent += a.Minutes
	}

	out.Strength = decay.Clamp01(out.Strength + StatDelta(a))
	out.NextReviewAt = decay.NextReviewAt(out.EntityType, out.Strength, now)
	return out
}
