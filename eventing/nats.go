package eventing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/conductor-ai/conductor/domain"
)

// NATS publishes events as JSON onto a NATS subject per channel, under an
// optional subject prefix.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

var _ Sink = (*NATS)(nil)

// NewNATS wraps an established connection. Prefix may be empty.
func NewNATS(conn *nats.Conn, prefix string) *NATS {
	return &NATS{conn: conn, prefix: prefix}
}

// Publish marshals the event and publishes it. Delivery is at-most-once;
// the engine treats event loss as acceptable.
func (s *NATS) Publish(ctx context.Context, channel string, ev domain.RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := channel
	if s.prefix != "" {
		subject = s.prefix + "." + channel
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
