// Package notify publishes change notifications after a write commits.
// Notifications carry ids only; consumers read the new state from the
// engine.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dan-solli/learngraph/pkg/jsonx"
)

// Change kinds.
const (
	KindGraph       = "graph"
	KindLearner     = "learner"
	KindFingerprint = "fingerprint"
)

// Change describes one committed write.
type Change struct {
	Kind      string    `json:"kind"`
	EventType string    `json:"event_type,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	At        time.Time `json:"at"`
}

// Encode returns the wire form of c.
func (c Change) Encode() ([]byte, error) {
	return jsonx.Marshal(c)
}

// Publisher delivers changes. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
	Close() error
}

// Noop discards every change.
type Noop struct{}

func (Noop) Publish(context.Context, Change) error { return nil }

func (Noop) Close() error { return nil }

// Memory keeps published changes in order. Useful for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	changes []Change
}

func (m *Memory) Publish(_ context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, c)
	return nil
}

func (m *Memory) Close() error { return nil }

// Changes returns a copy of everything published so far.
func (m *Memory) Changes() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Change(nil), m.changes...)
}

func topic(prefix, kind string) string {
	if prefix == "" {
		return kind
	}
	return prefix + "." + kind
}
