// Package snapshot persists per-run reconciliation state so a restart
// (or a reconnecting dashboard) can resume without replaying the full
// event stream.
//
// Snapshots are plain JSON documents tagged with a save timestamp and
// stored in a local SQLite file, one row per run. Rows older than the
// age ceiling are discarded on load; a stale snapshot is worse than an
// empty one, because the engine would debounce completion against runs
// that finished long ago.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ordersight/ordersight/internal/model"
)

// DefaultMaxAge is the age ceiling past which a stored snapshot row is
// discarded on load.
const DefaultMaxAge = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS run_snapshots (
	run_id     TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	completion TEXT NOT NULL,
	saved_at   TIMESTAMP NOT NULL
);
`

// Snapshot is the plain recovery document: every live run's reconciled
// record and completion state, tagged with the save time.
type Snapshot struct {
	SavedAt    time.Time                        `json:"saved_at"`
	Runs       map[string]model.RunRecord       `json:"runs"`
	Completion map[string]model.CompletionState `json:"completion"`
}

// Store is a SQLite-backed snapshot store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the snapshot database at path.
// Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; the engine saves from a
	// single goroutine, so a pool of one is enough and avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: create schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot with snap. Runs absent from snap
// are removed so a reset run does not resurrect on restore.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_snapshots`); err != nil {
		return fmt.Errorf("snapshot: clear: %w", err)
	}

	for runID, record := range snap.Runs {
		recJSON, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("snapshot: marshal run %s: %w", runID, err)
		}
		compJSON, err := json.Marshal(snap.Completion[runID])
		if err != nil {
			return fmt.Errorf("snapshot: marshal completion %s: %w", runID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_snapshots (run_id, record, completion, saved_at) VALUES (?, ?, ?, ?)`,
			runID, string(recJSON), string(compJSON), snap.SavedAt,
		); err != nil {
			return fmt.Errorf("snapshot: insert run %s: %w", runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit save: %w", err)
	}
	return nil
}

// Load reads the stored snapshot, discarding rows older than maxAge
// (DefaultMaxAge when maxAge <= 0). An empty store yields an empty
// snapshot, not an error.
func (s *Store) Load(ctx context.Context, maxAge time.Duration) (Snapshot, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, record, completion, saved_at FROM run_snapshots WHERE saved_at >= ?`, cutoff)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: load: %w", err)
	}
	defer rows.Close()

	snap := Snapshot{
		Runs:       make(map[string]model.RunRecord),
		Completion: make(map[string]model.CompletionState),
	}
	discarded := 0
	for rows.Next() {
		var (
			runID, recJSON, compJSON string
			savedAt                  time.Time
		)
		if err := rows.Scan(&runID, &recJSON, &compJSON, &savedAt); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: scan: %w", err)
		}

		var record model.RunRecord
		if err := json.Unmarshal([]byte(recJSON), &record); err != nil {
			// A corrupt row degrades to a dropped run, not a failed load.
			s.logger.Warn("snapshot: discarding corrupt run row", "run_id", runID, "error", err)
			discarded++
			continue
		}
		var comp model.CompletionState
		if err := json.Unmarshal([]byte(compJSON), &comp); err != nil {
			s.logger.Warn("snapshot: discarding corrupt completion row", "run_id", runID, "error", err)
			discarded++
			continue
		}

		snap.Runs[runID] = record
		snap.Completion[runID] = comp
		if savedAt.After(snap.SavedAt) {
			snap.SavedAt = savedAt
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: iterate: %w", err)
	}
	if discarded > 0 {
		s.logger.Warn("snapshot: load discarded corrupt rows", "discarded", discarded)
	}
	return snap, nil
}

// Prune deletes rows older than maxAge (DefaultMaxAge when <= 0).
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_snapshots WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
