// Package events is the boundary between raw activity telemetry and the
// engine. It turns a (type, JSON payload) pair into one variant of a closed
// set of graph events, or into a typed cognitive interaction, applying
// documented defaults to anything missing or malformed.
package events

import (
	"fmt"
	"strings"
)

// Activity event types.
const (
	TopicOpened   = "TOPIC_OPENED"
	QuizGenerated = "QUIZ_GENERATED"
	QuizSubmitted = "QUIZ_SUBMITTED"
	VideoWatched  = "VIDEO_WATCHED"
	CanvasUsed    = "CANVAS_USED"
)

// Structural event types.
const (
	TopicRenamed    = "TOPIC_RENAMED"
	TopicArchived   = "TOPIC_ARCHIVED"
	TopicMerged     = "TOPIC_MERGED"
	EdgeArchived    = "EDGE_ARCHIVED"
	LensLinkCreated = "LENS_LINK_CREATED"
	ConceptArchived = "CONCEPT_ARCHIVED"
	ConceptCreated  = "CONCEPT_CREATED"
)

// Event is a decoded graph event. The set of implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

// QuizResult summarizes a submitted quiz.
type QuizResult struct {
	Total      int
	Score      int
	Unanswered int
}

// Activity is a learning activity on a topic, optionally narrowed to a
// concept. TopicID is only consulted when TopicLabel is empty.
type Activity struct {
	Type         string
	TopicLabel   string
	ConceptLabel string
	TopicID      string
	ForceDelta   *float64
	Quiz         QuizResult // QUIZ_SUBMITTED
	Minutes      float64    // VIDEO_WATCHED, CANVAS_USED
}

// Rename relabels a topic.
type Rename struct {
	OldLabel string
	NewLabel string
}

// ArchiveTopic archives a topic by label.
type ArchiveTopic struct {
	TopicLabel string
}

// ArchiveConcept archives a concept by label.
type ArchiveConcept struct {
	ConceptLabel string
}

// CreateConcept ensures a concept under a topic.
type CreateConcept struct {
	TopicLabel   string
	ConceptLabel string
}

// Merge folds one topic into another.
type Merge struct {
	FromLabel string
	IntoLabel string
}

// Endpoint names one side of a structural edge event.
type Endpoint struct {
	Label string
	Type  string // "topic" or "concept"

	// Parent topic for concept endpoints; ID wins over label.
	TopicID    string
	TopicLabel string
}

// ArchiveEdge archives the edge between two labeled entities.
type ArchiveEdge struct {
	From Endpoint
	To   Endpoint
}

// LensLink declares an explicit relationship through a named lens.
type LensLink struct {
	From      Endpoint
	To        Endpoint
	LensLabel string
}

// Reason is the edge reason recorded for the link.
func (l LensLink) Reason() string {
	if l.LensLabel == "" {
		return "lens"
	}
	return "lens:" + l.LensLabel
}

// Unrecognized is any event type outside the known set. It is logged but
// changes nothing.
type Unrecognized struct {
	Type string
}

func (a Activity) EventType() string { return a.Type }
func (Rename) EventType() string { return TopicRenamed }
func (ArchiveTopic) EventType() string { return TopicArchived }
func (ArchiveConcept) EventType() string { return ConceptArchived }
func (CreateConcept) EventType() string { return ConceptCreated }
func (Merge) EventType() string { return TopicMerged }
func (ArchiveEdge) EventType() string { return EdgeArchived }
func (LensLink) EventType() string { return LensLinkCreated }
func (u Unrecognized) EventType() string { return u.Type }
func (Activity) isEvent() {}
func (Rename) isEvent() {}
func (ArchiveTopic) isEvent() {}
func (ArchiveConcept) isEvent() {}
func (CreateConcept) isEvent() {}
func (Merge) isEvent() {}
func (ArchiveEdge) isEvent() {}
func (LensLink) isEvent() {}
func (Unrecognized) isEvent() {}

// TopicLabelOf returns the topic label an event is primarily about, used to
// index the event log for co-study lookups.
func TopicLabelOf(ev Event) string {
	switch e := ev.(type) {
	case Activity:
		return e.TopicLabel
	case ArchiveTopic:
		return e.TopicLabel
	case CreateConcept:
		return e.TopicLabel
	case Rename:
		return e.OldLabel
	case Merge:
		return e.FromLabel
	}
	return ""
}

// PayloadError lists payload fields that were missing the expected shape
// and were replaced with defaults. It is informational: decoding still
// produces a usable event.
type PayloadError struct {
	Type   string
	Fields []string
	Cause  error
}

func (e *PayloadError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("malformed %s payload: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("malformed %s payload fields [%s]: %v", e.Type, strings.Join(e.Fields, ", "), e.Cause)
}

func (e *PayloadError) Unwrap() error {
	return e.Cause
}
