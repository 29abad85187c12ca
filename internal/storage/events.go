package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ordersight/ordersight/internal/model"
)

// StoredEvent is one row of the append-only event log. Source of
// truth for replay; never mutated or deleted by the engine.
type StoredEvent struct {
	ID        uuid.UUID
	RunID     string
	Seq       int64
	Event     model.EventInput
	CreatedAt time.Time
}

// AppendEvent inserts a single raw event for a run.
func (db *DB) AppendEvent(ctx context.Context, runID string, ev model.EventInput) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("storage: marshal event: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO stage_events (id, run_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.New(), runID, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

// AppendEvents bulk-inserts events with the COPY protocol. Used when
// ingesting a batch from the execution engine.
func (db *DB) AppendEvents(ctx context.Context, runID string, events []model.EventInput) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("storage: marshal event %d: %w", i, err)
		}
		rows[i] = []any{uuid.New(), runID, payload, now}
	}

	// Bounded COPY timeout so a hung Postgres cannot block ingestion
	// indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	count, err := db.pool.CopyFrom(
		copyCtx,
		pgx.Identifier{"stage_events"},
		[]string{"id", "run_id", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: copy events: %w", err)
	}
	return count, nil
}

// EventsByRun returns a run's raw events in insertion order, for batch
// re-derivation via Deduplicate. limit <= 0 defaults to 10000; callers
// can detect truncation by comparing the result length to the limit.
func (db *DB) EventsByRun(ctx context.Context, runID string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, seq, payload, created_at
		 FROM stage_events WHERE run_id = $1
		 ORDER BY seq ASC
		 LIMIT $2`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: events by run: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			e       StoredEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Event); err != nil {
			// A corrupt payload degrades to an empty (unnamed, pending)
			// event rather than failing the whole replay.
			db.logger.Warn("storage: corrupt event payload", "event_id", e.ID, "error", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RunIDs lists the distinct run ids present in the event log.
func (db *DB) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT DISTINCT run_id FROM stage_events ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
