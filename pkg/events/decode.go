package events

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dan-solli/learngraph/pkg/jsonx"
)

const schemaBase = "schema://learngraph/"

const activitySchema = `{
	"type": "object",
	"properties": {
		"topicLabel": {"type": "string"},
		"conceptLabel": {"type": "string"},
		"topicId": {"type": "string"},
		"forceDelta": {"type": "number"},
		"total": {"type": "integer", "minimum": 0},
		"score": {"type": "integer", "minimum": 0},
		"correct": {"type": "integer", "minimum": 0},
		"minutes": {"type": "number", "minimum": 0},
		"perQuestion": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {"unanswered": {"type": "boolean"}}
			}
		}
	}
}`

const edgeSchema = `{
	"type": "object",
	"properties": {
		"fromLabel": {"type": "string"},
		"fromType": {"enum": ["topic", "concept"]},
		"fromTopicId": {"type": "string"},
		"fromTopicLabel": {"type": "string"},
		"toLabel": {"type": "string"},
		"toType": {"enum": ["topic", "concept"]},
		"toTopicId": {"type": "string"},
		"toTopicLabel": {"type": "string"},
		"lensLabel": {"type": "string"}
	}
}`

const cognitiveSchema = `{
	"type": "object",
	"properties": {
		"correct": {"type": "boolean"},
		"question_format": {"type": "string"},
		"confidence": {"type": "number"},
		"time_spent_ms": {"type": "number", "minimum": 0},
		"error_class": {"type": "string"},
		"errorType": {"type": "string"},
		"format_variation": {"type": "boolean"},
		"delta_success": {"type": "number"}
	}
}`

func stringProps(names ...string) string {
	props := make([]string, len(names))
	for i, n := range names {
		props[i] = fmt.Sprintf("%q: {\"type\": \"string\"}", n)
	}
	return `{"type": "object", "properties": {` + strings.Join(props, ", ") + `}}`
}

var schemaSources = map[string]string{
	"activity":        activitySchema,
	"edge":            edgeSchema,
	"cognitive":       cognitiveSchema,
	"rename":          stringProps("oldLabel", "newLabel"),
	"merge":           stringProps("fromLabel", "intoLabel"),
	"archive-topic":   stringProps("topicLabel"),
	"archive-concept": stringProps("conceptLabel"),
	"create-concept":  stringProps("topicLabel", "conceptLabel"),
}

var schemaForType = map[string]string{
	TopicOpened:     "activity",
	QuizGenerated:   "activity",
	QuizSubmitted:   "activity",
	VideoWatched:    "activity",
	CanvasUsed:      "activity",
	TopicRenamed:    "rename",
	TopicArchived:   "archive-topic",
	TopicMerged:     "merge",
	EdgeArchived:    "edge",
	LensLinkCreated: "edge",
	ConceptArchived: "archive-concept",
	ConceptCreated:  "create-concept",
}

// Decoder validates payloads against per-type JSON schemas and builds typed
// events. A Decoder is immutable after construction and safe for concurrent
// use.
type Decoder struct {
	schemas map[string]*jsonschema.Schema
}

// NewDecoder compiles the payload schemas.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s schema: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name+".json", doc); err != nil {
			return nil, fmt.Errorf("failed to add %s schema: %w", name, err)
		}
	}

	d := &Decoder{schemas: make(map[string]*jsonschema.Schema, len(schemaSources))}
	for name := range schemaSources {
		s, err := c.Compile(schemaBase + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
		}
		d.schemas[name] = s
	}
	return d, nil
}

// Known reports whether eventType is one of the graph event types.
func Known(eventType string) bool {
	_, ok := schemaForType[eventType]
	return ok
}

// DecodeGraph turns a raw graph event payload into its variant. It always
// returns a usable event and the sanitized payload JSON to store in the
// event log. When fields had to be dropped or the payload was unparsable the
// returned error is a *PayloadError; it is never a reason to reject the event.
func (d *Decoder) DecodeGraph(eventType string, raw []byte) (Event, string, error) {
	name, known := schemaForType[eventType]
	obj, perr := d.sanitize(eventType, d.schemas[name], raw)

	stored, err := jsonx.MarshalToString(obj)
	if err != nil {
		// obj only holds values produced by the JSON decoder.
		return Unrecognized{Type: eventType}, "{}", &PayloadError{Type: eventType, Cause: err}
	}
	if !known {
		return Unrecognized{Type: eventType}, stored, nilIfEmpty(perr)
	}

	ev, err := buildGraphEvent(eventType, name, stored)
	if err != nil {
		return Unrecognized{Type: eventType}, stored, &PayloadError{Type: eventType, Cause: err}
	}
	return ev, stored, nilIfEmpty(perr)
}

// DecodeCognitive validates a cognitive interaction payload and returns the
// typed view together with the sanitized JSON to append to the log.
func (d *Decoder) DecodeCognitive(interactionType string, raw []byte) (CognitivePayload, string, error) {
	obj, perr := d.sanitize(interactionType, d.schemas["cognitive"], raw)
	stored, err := jsonx.MarshalToString(obj)
	if err != nil {
		return CognitivePayload{}, "{}", &PayloadError{Type: interactionType, Cause: err}
	}
	p, err := ParseCognitivePayload(stored)
	if err != nil {
		return CognitivePayload{}, "{}", &PayloadError{Type: interactionType, Cause: err}
	}
	return p, stored, nilIfEmpty(perr)
}

func nilIfEmpty(perr *PayloadError) error {
	if perr == nil {
		return nil
	}
	return perr
}

// sanitize parses raw into a JSON object and removes every top-level field
// that fails the schema. Unparsable or non-object payloads become {}.
func (d *Decoder) sanitize(eventType string, schema *jsonschema.Schema, raw []byte) (map[string]any, *PayloadError) {
	obj := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return obj, nil
	}

	var v any
	if err := jsonx.Unmarshal(raw, &v); err != nil {
		return obj, &PayloadError{Type: eventType, Cause: fmt.Errorf("invalid JSON: %w", err)}
	}
	switch t := v.(type) {
	case nil:
		return obj, nil
	case map[string]any:
		obj = t
	default:
		return obj, &PayloadError{Type: eventType, Cause: fmt.Errorf("payload is %T, not an object", v)}
	}

	if schema == nil {
		return obj, nil
	}
	err := schema.Validate(obj)
	if err == nil {
		return obj, nil
	}
	fields := invalidFields(err)
	if len(fields) == 0 {
		return map[string]any{}, &PayloadError{Type: eventType, Cause: err}
	}
	for _, f := range fields {
		delete(obj, f)
	}
	return obj, &PayloadError{Type: eventType, Fields: fields, Cause: err}
}

// invalidFields returns the top-level property names that own a failing
// leaf of a schema validation error.
func invalidFields(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	seen := make(map[string]bool)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			if len(e.InstanceLocation) > 0 {
				seen[e.InstanceLocation[0]] = true
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

type activityWire struct {
	TopicLabel   string   `json:"topicLabel"`
	ConceptLabel string   `json:"conceptLabel"`
	TopicID      string   `json:"topicId"`
	ForceDelta   *float64 `json:"forceDelta"`
	Total        *float64 `json:"total"`
	Score        *float64 `json:"score"`
	Correct      *float64 `json:"correct"`
	Minutes      float64  `json:"minutes"`
	PerQuestion  []struct {
		Unanswered bool `json:"unanswered"`
	} `json:"perQuestion"`
}

type edgeWire struct {
	FromLabel      string `json:"fromLabel"`
	FromType       string `json:"fromType"`
	FromTopicID    string `json:"fromTopicId"`
	FromTopicLabel string `json:"fromTopicLabel"`
	ToLabel        string `json:"toLabel"`
	ToType         string `json:"toType"`
	ToTopicID      string `json:"toTopicId"`
	ToTopicLabel   string `json:"toTopicLabel"`
	LensLabel      string `json:"lensLabel"`
}

type labelsWire struct {
	OldLabel     string `json:"oldLabel"`
	NewLabel     string `json:"newLabel"`
	FromLabel    string `json:"fromLabel"`
	IntoLabel    string `json:"intoLabel"`
	TopicLabel   string `json:"topicLabel"`
	ConceptLabel string `json:"conceptLabel"`
}

func buildGraphEvent(eventType, schema, payload string) (Event, error) {
	switch schema {
	case "activity":
		var w activityWire
		if err := jsonx.UnmarshalFromString(payload, &w); err != nil {
			return nil, fmt.Errorf("failed to decode activity payload: %w", err)
		}
		return w.activity(eventType), nil

	case "edge":
		var w edgeWire
		if err := jsonx.UnmarshalFromString(payload, &w); err != nil {
			return nil, fmt.Errorf("failed to decode edge payload: %w", err)
		}
		from := endpoint(w.FromLabel, w.FromType, w.FromTopicID, w.FromTopicLabel)
		to := endpoint(w.ToLabel, w.ToType, w.ToTopicID, w.ToTopicLabel)
		if eventType == LensLinkCreated {
			return LensLink{From: from, To: to, LensLabel: strings.TrimSpace(w.LensLabel)}, nil
		}
		return ArchiveEdge{From: from, To: to}, nil
	}

	var w labelsWire
	if err := jsonx.UnmarshalFromString(payload, &w); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	switch eventType {
	case TopicRenamed:
		return Rename{OldLabel: w.OldLabel, NewLabel: w.NewLabel}, nil
	case TopicMerged:
		return Merge{FromLabel: w.FromLabel, IntoLabel: w.IntoLabel}, nil
	case TopicArchived:
		return ArchiveTopic{TopicLabel: w.TopicLabel}, nil
	case ConceptArchived:
		return ArchiveConcept{ConceptLabel: w.ConceptLabel}, nil
	case ConceptCreated:
		return CreateConcept{TopicLabel: w.TopicLabel, ConceptLabel: w.ConceptLabel}, nil
	}
	return Unrecognized{Type: eventType}, nil
}

func (w activityWire) activity(eventType string) Activity {
	a := Activity{
		Type:         eventType,
		TopicLabel:   w.TopicLabel,
		ConceptLabel: w.ConceptLabel,
		TopicID:      w.TopicID,
		ForceDelta:   w.ForceDelta,
		Minutes:      w.Minutes,
	}
	if eventType != QuizSubmitted {
		return a
	}

	a.Quiz.Total = len(w.PerQuestion)
	if w.Total != nil {
		a.Quiz.Total = int(*w.Total)
	}
	switch {
	case w.Score != nil:
		a.Quiz.Score = int(*w.Score)
	case w.Correct != nil:
		a.Quiz.Score = int(*w.Correct)
	}
	for _, q := range w.PerQuestion {
		if q.Unanswered {
			a.Quiz.Unanswered++
		}
	}
	return a
}

func endpoint(label, kind, topicID, topicLabel string) Endpoint {
	if kind == "" {
		kind = "topic"
	}
	return Endpoint{Label: label, Type: kind, TopicID: topicID, TopicLabel: topicLabel}
}
