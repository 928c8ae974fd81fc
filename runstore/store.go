// Package runstore persists run snapshots across pauses. The engine itself
// never persists; the runtime saves a snapshot when a run halts and loads
// it on resume.
package runstore

import (
	"context"
	"time"

	"github.com/conductor-ai/conductor/domain"
)

// Snapshot is one persisted run: the full serialized state plus the stage
// to re-enter on resume.
type Snapshot struct {
	RunID     string           `json:"run_id"`
	Status    domain.RunStatus `json:"status"`
	Stage     string           `json:"stage"`
	State     *domain.RunState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store defines snapshot persistence. Save upserts; Load returns nil for an
// unknown run.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, runID string) (*Snapshot, error)
	Delete(ctx context.Context, runID string) error
	ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]Snapshot, error)
	Close() error
}
