package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultRequestTimeout = 30 * time.Second

// NATS submits jobs over request/reply. Workers subscribe on
// "<prefix>.<job>" and answer with a ToolReply.
type NATS struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
}

var _ Submitter = (*NATS)(nil)

// NewNATS wraps an established connection. A zero timeout gets the default.
func NewNATS(conn *nats.Conn, prefix string, timeout time.Duration) *NATS {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &NATS{conn: conn, prefix: prefix, timeout: timeout}
}

// Submit publishes the job and waits for a single reply.
func (q *NATS) Submit(ctx context.Context, job string, payload []byte) ([]byte, error) {
	subject := job
	if q.prefix != "" {
		subject = q.prefix + "." + job
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	msg, err := q.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("no workers for %s: %w", subject, err)
		}
		return nil, fmt.Errorf("request to %s failed: %w", subject, err)
	}

	var reply ToolReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("bad reply from %s: %w", subject, err)
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	out, err := json.Marshal(reply.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply result: %w", err)
	}
	return out, nil
}
