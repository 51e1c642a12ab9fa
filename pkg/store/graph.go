// Package store provides SQLite persistence for learngraph's knowledge graph,
// learner state and cognitive fingerprint tables.
package store

import (
	"errors"
	"time"
)

// EntityType discriminates the two node kinds of the knowledge graph.
type EntityType string

const (
	EntityTopic   EntityType = "topic"
	EntityConcept EntityType = "concept"
)

// ReasonBelongsTo marks the directional topic -> concept hierarchy edge.
const ReasonBelongsTo = "belongs_to"

// Topic is a coarse-grained knowledge graph node.
type Topic struct {
	ID         string
	Label      string
	Slug       string
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Concept is a fine-grained node owned by exactly one topic.
type Concept struct {
	ID         string
	TopicID    string
	Label      string
	Slug       string
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stats holds the familiarity counters for one topic or concept.
type Stats struct {
	EntityType     EntityType
	EntityID       string
	Strength       float64
	Exposures      int64
	CorrectCount   int64
	IncorrectCount int64
	SkipCount      int64
	MinutesSpent   float64
	LastSeenAt     time.Time
	LastReviewedAt *time.Time
	NextReviewAt   time.Time
}

// Edge is a weighted, typed relationship between two entities.
type Edge struct {
	ID         string
	FromID     string
	FromType   EntityType
	ToID       string
	ToType     EntityType
	Weight     float64
	Reason     string
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EntityRow joins an entity with its stats for the graph read model.
type EntityRow struct {
	ID        string
	TopicID   string // empty for topics
	Label     string
	Slug      string
	CreatedAt time.Time
	Stats     Stats
}

// GraphEvent is an immutable activity log row.
type GraphEvent struct {
	Seq        int64
	ID         string
	Type       string
	TopicLabel string
	Payload    string
	CreatedAt  time.Time
}

// QuizAttempt is one QUIZ_ATTEMPT row: a scored answer attributed to a concept.
type QuizAttempt struct {
	Seq       int64
	ID        string
	UserID    string
	CourseID  string
	ConceptID string
	Correct   bool
	Payload   string
	CreatedAt time.Time
}

// ConceptState is the per-(learner, concept) mastery tracker.
type ConceptState struct {
	UserID            string
	ConceptID         string
	Mastery           float64
	Fragility         float64
	Confidence        float64
	PrereqGap         float64
	AttemptCountTotal int64
	StreakSuccess     int64
	StreakFail        int64
	LastPracticedAt   time.Time
	NextReviewAt      time.Time
}

// CognitiveEvent is an append-only learner interaction row.
type CognitiveEvent struct {
	Seq             int64
	ID              string
	UserID          string
	SessionID       string
	CourseID        string
	ConceptTags     []string
	QuestionID      string
	InteractionType string
	Payload         string
	CreatedAt       time.Time
}

// FingerprintUser is the per-learner derived summary row.
type FingerprintUser struct {
	UserID              string
	ErrorTypeScores     map[string]float64
	ErrorExamples       map[string][]string
	PreferenceScores    map[string]float64
	PreferenceWatermark int64
	UpdatedAt           time.Time
}

// FingerprintConcept is the per-(learner, concept tag) derived row.
type FingerprintConcept struct {
	UserID          string
	ConceptTag      string
	Strength        float64
	Fragility       float64
	HalfLifeDays    float64
	LastSeenAt      *time.Time
	LastPracticedAt *time.Time
	Exposures       int64
	SuccessCount    int64
	FailCount       int64
	LastFailModes   []string
	UpdatedAt       time.Time
}

// Counts summarizes table sizes for the storage gauge.
type Counts struct {
	Topics          int64
	Concepts        int64
	Edges           int64
	GraphEvents     int64
	CognitiveEvents int64
}

// ErrNotFound indicates that no row matched the lookup.
var ErrNotFound = errors.New("not found")
