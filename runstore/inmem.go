package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/conductor-ai/conductor/domain"
)

// InMemory keeps snapshots in a map. Snapshots round-trip through JSON so
// stored state never aliases live run state.
type InMemory struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{snaps: make(map[string]Snapshot)}
}

// Save upserts a snapshot.
func (s *InMemory) Save(ctx context.Context, snap Snapshot) error {
	copied, err := copySnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.RunID] = copied
	return nil
}

// Load returns the snapshot for a run, or nil if unknown.
func (s *InMemory) Load(ctx context.Context, runID string) (*Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.snaps[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	copied, err := copySnapshot(snap)
	if err != nil {
		return nil, err
	}
	return &copied, nil
}

// Delete removes a snapshot. Deleting an unknown run is a no-op.
func (s *InMemory) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, runID)
	return nil
}

// ListByStatus returns snapshots with the given status.
func (s *InMemory) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for _, snap := range s.snaps {
		if snap.Status != status {
			continue
		}
		copied, err := copySnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *InMemory) Close() error {
	return nil
}

func copySnapshot(snap Snapshot) (Snapshot, error) {
	if snap.State == nil {
		return snap, nil
	}
	data, err := json.Marshal(snap.State)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to marshal run state: %w", err)
	}
	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	out := snap
	out.State = &state
	return out, nil
}
