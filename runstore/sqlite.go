package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conductor-ai/conductor/domain"
)

// SQLite persists snapshots in a single table. Use dsn ":memory:" in tests.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens the database and runs migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLite{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS run_snapshots (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_snapshots_status ON run_snapshots(status, updated_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Save upserts a snapshot.
func (s *SQLite) Save(ctx context.Context, snap Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_snapshots (run_id, status, stage, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			stage = excluded.stage,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		snap.RunID, snap.Status, snap.Stage, string(state), created, updated)
	return err
}

// Load retrieves a snapshot by run id, or nil if unknown.
func (s *SQLite) Load(ctx context.Context, runID string) (*Snapshot, error) {
	var snap Snapshot
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, stage, state, created_at, updated_at FROM run_snapshots WHERE run_id = ?`,
		runID).Scan(&snap.RunID, &snap.Status, &snap.Stage, &state, &snap.CreatedAt, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rs domain.RunState
	if err := json.Unmarshal([]byte(state), &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	snap.State = &rs
	return &snap, nil
}

// Delete removes a snapshot.
func (s *SQLite) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_snapshots WHERE run_id = ?`, runID)
	return err
}

// ListByStatus returns snapshots with the given status, oldest first.
func (s *SQLite) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]Snapshot, error) {
	query := `SELECT run_id, status, stage, state, created_at, updated_at FROM run_snapshots WHERE status = ? ORDER BY updated_at ASC`
	args := []interface{}{status}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var state string
		if err := rows.Scan(&snap.RunID, &snap.Status, &snap.Stage, &state, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		var rs domain.RunState
		if err := json.Unmarshal([]byte(state), &rs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
		}
		snap.State = &rs
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
