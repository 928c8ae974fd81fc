package eventing

import (
	"context"
	"sync"

	"github.com/conductor-ai/conductor/domain"
)

// InMemory captures events in memory and exposes deterministic snapshots.
// Used by tests and by deployments that scrape events out-of-band.
type InMemory struct {
	mu     sync.RWMutex
	events []domain.RunEvent
}

var _ Sink = (*InMemory)(nil)

// NewInMemory creates an empty in-memory sink.
func NewInMemory() *InMemory {
	return &InMemory{events: make([]domain.RunEvent, 0)}
}

// Publish appends a copy of the event.
func (s *InMemory) Publish(ctx context.Context, channel string, ev domain.RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, cloneEvent(ev))
	return nil
}

// Events returns a snapshot of everything published so far.
func (s *InMemory) Events() []domain.RunEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RunEvent, len(s.events))
	for i := range s.events {
		out[i] = cloneEvent(s.events[i])
	}
	return out
}

// OfType filters the snapshot by event type.
func (s *InMemory) OfType(t domain.EventType) []domain.RunEvent {
	var out []domain.RunEvent
	for _, ev := range s.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func cloneEvent(in domain.RunEvent) domain.RunEvent {
	out := in
	if in.Payload != nil {
		out.Payload = make(map[string]any, len(in.Payload))
		for k, v := range in.Payload {
			out.Payload[k] = v
		}
	}
	return out
}
