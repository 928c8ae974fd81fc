package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/conductor-ai/conductor/registry"
)

// Worker serves queued tool calls against a local registry. It is the
// remote half of the NATS submitter.
type Worker struct {
	conn     *nats.Conn
	registry *registry.Registry
	prefix   string
}

// NewWorker wraps a connection and a registry. Prefix must match the
// submitter's.
func NewWorker(conn *nats.Conn, reg *registry.Registry, prefix string) *Worker {
	return &Worker{conn: conn, registry: reg, prefix: prefix}
}

// Serve subscribes to the tool-call subject and answers requests until the
// context ends.
func (w *Worker) Serve(ctx context.Context) error {
	subject := JobToolCall
	if w.prefix != "" {
		subject = w.prefix + "." + JobToolCall
	}

	sub, err := w.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := w.handle(ctx, msg.Data)
		data, err := json.Marshal(reply)
		if err != nil {
			log.Printf("ERROR: failed to encode reply on %s: %v", subject, err)
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Printf("WARN: failed to respond on %s: %v", subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	log.Printf("INFO: worker serving %s", subject)
	<-ctx.Done()
	return ctx.Err()
}

func (w *Worker) handle(ctx context.Context, payload []byte) ToolReply {
	var tj ToolJob
	if err := json.Unmarshal(payload, &tj); err != nil {
		return ToolReply{Error: fmt.Sprintf("bad tool job: %v", err)}
	}
	result, err := w.registry.Call(ctx, tj.Ctx, tj.Tool, tj.Args)
	if err != nil {
		return ToolReply{Error: err.Error()}
	}
	return ToolReply{Result: result}
}
