package learngraph

import (
	"time"

	"github.com/dan-solli/learngraph/pkg/trace"
)

// Stage names recorded as spans.
const (
	spanApply     = "apply"
	spanRecompute = "recompute"
	spanDecay     = "decay"
	spanQuery     = "query"
)

// opTrace collects the spans of one operation.
type opTrace struct {
	spans []trace.SpanRecord
}

func newOpTrace() *opTrace {
	return &opTrace{spans: make([]trace.SpanRecord, 0, 2)}
}

func (t *opTrace) span(name string) *spanTimer {
	return &spanTimer{name: name, start: time.Now(), trace: t}
}

type spanTimer struct {
	name  string
	start time.Time
	trace *opTrace
}

// finish records the span. counters may be nil.
func (st *spanTimer) finish(err error, counters map[string]int64) {
	span := trace.SpanRecord{
		Name:       st.name,
		DurationMs: time.Since(st.start).Milliseconds(),
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.ErrorType = ClassifyError(err)
	}
	st.trace.spans = append(st.trace.spans, span)
}
