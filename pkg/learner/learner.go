// Package learner tracks per-learner concept mastery from scored quiz
// attempts and ranks the concepts a learner is falling behind on.
package learner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/jsonx"
	"github.com/dan-solli/learngraph/pkg/store"
)

// Mastery model constants.
const (
	DefaultMastery    = 0.4
	DefaultConfidence = 0.5
	DefaultFragility  = 0.5
	DefaultDifficulty = 0.5

	PrimaryWeight   = 1.0
	SecondaryWeight = 0.3

	masteryStep       = 0.06
	recentWindow      = 10
	confidenceCarry   = 0.7
	prereqTarget      = 0.7
	fragileThreshold  = 0.6
	lowMastery        = 0.4
	highMastery       = 0.7
	laggingLimit      = 10
	overdueBoost      = 0.3
	falseConfBoost    = 0.2
	falseConfMinConf  = 0.7
	falseConfMaxMast  = 0.5
	reviewBaseDays    = 3
	reviewLowDays     = 1
	reviewHighDays    = 7
	reviewMinimumDays = 1
)

// Attempt is one scored answer attributed to one concept.
type Attempt struct {
	UserID     string
	ConceptID  string
	Correct    bool
	Difficulty float64 // 0 means DefaultDifficulty
	// Confidence is the learner's observed confidence in [0, 1], if any.
	Confidence *float64
	Weight     float64 // 0 means PrimaryWeight
}

// Snapshot is the part of a concept state reported around an update.
type Snapshot struct {
	Mastery      float64   `json:"mastery"`
	Fragility    float64   `json:"fragility"`
	Confidence   float64   `json:"confidence"`
	PrereqGap    float64   `json:"prereqGap"`
	NextReviewAt time.Time `json:"nextReviewAt"`
}

// Update is the before/after pair of one state change.
type Update struct {
	ConceptID string   `json:"conceptId"`
	Before    Snapshot `json:"before"`
	After     Snapshot `json:"after"`
}

// Engine is the single writer of learner concept state.
type Engine struct {
	store  *store.SQLiteStore
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine. A nil clock means time.Now.
func New(st *store.SQLiteStore, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:  st,
		now:    clock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the logger. A nil logger discards output.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger
	return e
}

// ReviewDays is the review interval for a mastery and fragility pair.
func ReviewDays(mastery, fragility float64) int {
	days := reviewBaseDays
	switch {
	case mastery < lowMastery:
		days = reviewLowDays
	case mastery > highMastery:
		days = reviewHighDays
	}
	if fragility > fragileThreshold {
		days = max(reviewMinimumDays, int(math.Round(float64(days)/2)))
	}
	return days
}

// MasteryDelta is the mastery change for one attempt.
func MasteryDelta(correct bool, difficulty, weight float64) float64 {
	if difficulty == 0 {
		difficulty = DefaultDifficulty
	}
	sign := -1.0
	if correct {
		sign = 1
	}
	return masteryStep * (0.5 + difficulty/2) * sign * weight
}

// UpdateConceptState applies one attempt in its own transaction.
func (e *Engine) UpdateConceptState(ctx context.Context, a Attempt) (*Update, error) {
	var u *Update
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		u, err = e.UpdateConceptStateForAttempt(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update concept state: %w", err)
	}
	return u, nil
}

// UpdateConceptStateForAttempt moves one (learner, concept) state by one
// attempt. Fragility is read from the recent QUIZ_ATTEMPT log, so callers
// that record attempts append them first.
func (e *Engine) UpdateConceptStateForAttempt(ctx context.Context, tx *store.Tx, a Attempt) (*Update, error) {
	if a.ConceptID == "" {
		return nil, nil
	}
	if a.Weight == 0 {
		a.Weight = PrimaryWeight
	}
	now := e.now().UTC()

	prev, err := tx.GetConceptState(ctx, a.UserID, a.ConceptID)
	if errors.Is(err, store.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, err
	}

	before := Snapshot{Mastery: DefaultMastery, Fragility: DefaultFragility, Confidence: DefaultConfidence}
	next := &store.ConceptState{UserID: a.UserID, ConceptID: a.ConceptID}
	if prev != nil {
		before = Snapshot{
			Mastery:      prev.Mastery,
			Fragility:    prev.Fragility,
			Confidence:   prev.Confidence,
			PrereqGap:    prev.PrereqGap,
			NextReviewAt: prev.NextReviewAt,
		}
		*next = *prev
	}

	next.Mastery = decay.Clamp01(before.Mastery + MasteryDelta(a.Correct, a.Difficulty, a.Weight))
	next.AttemptCountTotal++
	if a.Correct {
		next.StreakSuccess++
		next.StreakFail = 0
	} else {
		next.StreakFail++
		next.StreakSuccess = 0
	}

	outcomes, err := tx.RecentAttemptOutcomes(ctx, a.UserID, a.ConceptID, recentWindow)
	if err != nil {
		return nil, err
	}
	next.Fragility = decay.Clamp01(1 - correctRate(outcomes))

	next.Confidence = before.Confidence
	if a.Confidence != nil {
		next.Confidence = decay.Clamp01(confidenceCarry*before.Confidence + (1-confidenceCarry)*(*a.Confidence))
	}

	next.PrereqGap, err = e.prereqGap(ctx, tx, a.UserID, a.ConceptID)
	if err != nil {
		return nil, err
	}

	next.LastPracticedAt = now
	next.NextReviewAt = now.AddDate(0, 0, ReviewDays(next.Mastery, next.Fragility))
	if err := tx.PutConceptState(ctx, next); err != nil {
		return nil, err
	}

	e.logger.Debug("concept state updated", "user", a.UserID, "concept", a.ConceptID,
		"correct", a.Correct, "mastery_before", before.Mastery, "mastery_after", next.Mastery)

	return &Update{
		ConceptID: a.ConceptID,
		Before:    before,
		After: Snapshot{
			Mastery:      next.Mastery,
			Fragility:    next.Fragility,
			Confidence:   next.Confidence,
			PrereqGap:    next.PrereqGap,
			NextReviewAt: next.NextReviewAt,
		},
	}, nil
}

func correctRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	n := 0
	for _, ok := range outcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}

// prereqGap is the mean shortfall of declared prerequisites below the
// target mastery. Prerequisites never attempted count as DefaultMastery.
func (e *Engine) prereqGap(ctx context.Context, tx *store.Tx, userID, conceptID string) (float64, error) {
	prereqs, err := tx.Prerequisites(ctx, conceptID)
	if err != nil || len(prereqs) == 0 {
		return 0, err
	}
	var sum float64
	for _, id := range prereqs {
		mastery := DefaultMastery
		s, err := tx.GetConceptState(ctx, userID, id)
		switch {
		case err == nil:
			mastery = s.Mastery
		case !errors.Is(err, store.ErrNotFound):
			return 0, err
		}
		sum += math.Max(0, prereqTarget-mastery)
	}
	return decay.Clamp01(sum / float64(len(prereqs))), nil
}

// ScoredQuestion is one answered quiz item.
type ScoredQuestion struct {
	ItemID              string   `json:"itemId"`
	PrimaryConceptID    string   `json:"primaryConceptId,omitempty"`
	SecondaryConceptIDs []string `json:"secondaryConceptIds,omitempty"`
	Correct             bool     `json:"correct"`
	Difficulty          float64  `json:"difficulty"`
	Confidence          *float64 `json:"confidence,omitempty"`
	TimeSec             *float64 `json:"timeSec,omitempty"`
	IsTransfer          bool     `json:"isTransfer,omitempty"`
}

// QuizSubmission is a scored quiz for one learner.
type QuizSubmission struct {
	UserID        string           `json:"userId"`
	CourseID      string           `json:"courseId,omitempty"`
	QuizSessionID string           `json:"quizSessionId,omitempty"`
	Questions     []ScoredQuestion `json:"questions"`
}

type attemptPayload struct {
	QuizSessionID string `json:"quizSessionId,omitempty"`
	CourseID      string `json:"courseId,omitempty"`
	ScoredQuestion
}

// RecordQuizAttempt logs one QUIZ_ATTEMPT row per (question, concept) and
// then updates every touched concept: the primary at PrimaryWeight and each
// secondary at SecondaryWeight. Everything commits together.
func (e *Engine) RecordQuizAttempt(ctx context.Context, sub QuizSubmission) ([]Update, error) {
	var updates []Update
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		now := e.now().UTC()
		for _, q := range sub.Questions {
			if q.Difficulty == 0 {
				q.Difficulty = DefaultDifficulty
			}
			payload, err := jsonx.MarshalToString(attemptPayload{
				QuizSessionID:  sub.QuizSessionID,
				CourseID:       sub.CourseID,
				ScoredQuestion: q,
			})
			if err != nil {
				return fmt.Errorf("failed to encode attempt payload: %w", err)
			}

			concepts := conceptsOf(q)
			if len(concepts) == 0 {
				concepts = []string{""}
			}
			for _, conceptID := range concepts {
				if err := tx.AppendQuizAttempt(ctx, &store.QuizAttempt{
					ID:        uuid.New().String(),
					UserID:    sub.UserID,
					CourseID:  sub.CourseID,
					ConceptID: conceptID,
					Correct:   q.Correct,
					Payload:   payload,
					CreatedAt: now,
				}); err != nil {
					return err
				}
			}
		}

		for _, q := range sub.Questions {
			for i, conceptID := range conceptsOf(q) {
				weight := SecondaryWeight
				if i == 0 && q.PrimaryConceptID != "" {
					weight = PrimaryWeight
				}
				u, err := e.UpdateConceptStateForAttempt(ctx, tx, Attempt{
					UserID:     sub.UserID,
					ConceptID:  conceptID,
					Correct:    q.Correct,
					Difficulty: q.Difficulty,
					Confidence: q.Confidence,
					Weight:     weight,
				})
				if err != nil {
					return err
				}
				updates = append(updates, *u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record quiz attempt: %w", err)
	}
	e.logger.Info("quiz attempt recorded", "user", sub.UserID, "questions", len(sub.Questions), "updates", len(updates))
	return updates, nil
}

func conceptsOf(q ScoredQuestion) []string {
	out := make([]string, 0, 1+len(q.SecondaryConceptIDs))
	if q.PrimaryConceptID != "" {
		out = append(out, q.PrimaryConceptID)
	}
	for _, id := range q.SecondaryConceptIDs {
		if id != "" && id != q.PrimaryConceptID {
			out = append(out, id)
		}
	}
	return out
}

// LaggingConcept is one ranked entry of LaggingConcepts.
type LaggingConcept struct {
	ConceptID    string    `json:"conceptId"`
	Title        string    `json:"title"`
	Mastery      float64   `json:"mastery"`
	Fragility    float64   `json:"fragility"`
	PrereqGap    float64   `json:"prereqGap"`
	Confidence   float64   `json:"confidence"`
	NextReviewAt time.Time `json:"nextReviewAt"`
	Priority     float64   `json:"priority"`
}

// Priority ranks a concept state: weaker, more fragile, prerequisite-starved,
// overdue or falsely confident concepts come first.
func Priority(s store.ConceptState, now time.Time) float64 {
	p := (1 - s.Mastery) + s.Fragility + s.PrereqGap
	if s.NextReviewAt.Before(now) {
		p += overdueBoost
	}
	if s.Confidence > falseConfMinConf && s.Mastery < falseConfMaxMast {
		p += falseConfBoost
	}
	return p
}

// LaggingConcepts returns the learner's ten highest-priority concepts,
// optionally restricted to one course.
func (e *Engine) LaggingConcepts(ctx context.Context, userID, courseID string) ([]LaggingConcept, error) {
	var out []LaggingConcept
	err := e.store.View(ctx, func(tx *store.Tx) error {
		states, err := tx.ConceptStates(ctx, userID, courseID)
		if err != nil {
			return err
		}
		labels, err := tx.ConceptLabels(ctx)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		out = make([]LaggingConcept, 0, len(states))
		for _, s := range states {
			title := labels[s.ConceptID]
			if title == "" {
				title = s.ConceptID
			}
			out = append(out, LaggingConcept{
				ConceptID:    s.ConceptID,
				Title:        title,
				Mastery:      s.Mastery,
				Fragility:    s.Fragility,
				PrereqGap:    s.PrereqGap,
				Confidence:   s.Confidence,
				NextReviewAt: s.NextReviewAt,
				Priority:     math.Round(Priority(s, now)*1000) / 1000,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank lagging concepts: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if len(out) > laggingLimit {
		out = out[:laggingLimit]
	}
	return out, nil
}

// DeclarePrerequisite records that prereqID should be mastered before
// conceptID. It affects prerequisite gaps from the next attempt on.
func (e *Engine) DeclarePrerequisite(ctx context.Context, conceptID, prereqID string) error {
	if conceptID == "" || prereqID == "" || conceptID == prereqID {
		return nil
	}
	return e.store.Update(ctx, func(tx *store.Tx) error {
		return tx.AddPrerequisite(ctx, conceptID, prereqID)
	})
}

// AssignConceptToCourse maps a concept into a course for course-scoped
// lagging queries.
func (e *Engine) AssignConceptToCourse(ctx context.Context, courseID, conceptID string, importance float64) error {
	if importance <= 0 {
		importance = 0.6
	}
	return e.store.Update(ctx, func(tx *store.Tx) error {
		return tx.AssignCourseConcept(ctx, courseID, conceptID, importance)
	})
}
