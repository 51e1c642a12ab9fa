package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes each change on subject "<prefix>.<kind>".
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS connects to url. The connection retries in the background, so an
// unreachable server does not fail construction.
func NewNATS(url, prefix string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("learngraph"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATS{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject a change of the given kind is published on.
func (n *NATS) Subject(kind string) string {
	return topic(n.prefix, kind)
}

func (n *NATS) Publish(_ context.Context, c Change) error {
	data, err := c.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := n.conn.Publish(n.Subject(c.Kind), data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
