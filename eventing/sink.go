// Package eventing publishes redacted run events for observability. The
// engine only ever writes events; nothing in it reads them back.
package eventing

import (
	"context"
	"log"

	"github.com/conductor-ai/conductor/domain"
)

// Sink delivers run events to an external consumer.
type Sink interface {
	Publish(ctx context.Context, channel string, ev domain.RunEvent) error
}

// Emit publishes fire-and-forget: a sink failure is logged and never blocks
// or fails the run.
func Emit(ctx context.Context, sink Sink, channel string, ev domain.RunEvent) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, channel, ev); err != nil {
		log.Printf("WARN: failed to publish %s event for run %s: %v", ev.Type, ev.RunID, err)
	}
}

// RunChannel is the per-run event channel name.
func RunChannel(runID string) string {
	return "runs." + runID
}
