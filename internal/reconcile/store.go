package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/telemetry"
)

// Store holds the reconciled stage records for every live run. It is an
// explicit handle; callers pass the store and run id to every
// operation, there is no process-wide registry.
//
// Each event is canonicalized, merged and reordered synchronously and
// completely under the mutex before the next is accepted, so readers
// never observe a partially merged record. Concurrent runs are fully
// independent.
type Store struct {
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*runState

	eventsApplied metric.Int64Counter
	mergesFolded  metric.Int64Counter
}

type runState struct {
	meta    model.RunRecord // Stages kept separately in byKey
	byKey   map[string]model.StageRecord
	ordered []model.StageRecord // rebuilt after every apply
}

// NewStore creates an empty run store.
func NewStore(logger *slog.Logger) *Store {
	s := &Store{
		logger: logger,
		runs:   make(map[string]*runState),
	}
	s.registerMetrics()
	return s
}

func (s *Store) registerMetrics() {
	meter := telemetry.Meter("ordersight/reconcile")
	s.eventsApplied, _ = meter.Int64Counter("ordersight.reconcile.events_applied",
		metric.WithDescription("Stage events folded into run records"))
	s.mergesFolded, _ = meter.Int64Counter("ordersight.reconcile.merges_folded",
		metric.WithDescription("Events that merged into an existing stage record"))
}

// ApplyEvent folds one event into the run's record set and returns the
// updated RunRecord. The run is created on first use. ApplyEvent never
// fails; malformed events have already been normalized at the boundary.
func (s *Store) ApplyEvent(ctx context.Context, runID string, ev model.StageEvent) model.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.runs[runID]
	if !ok {
		rs = &runState{
			meta:  model.RunRecord{RunID: runID, Status: model.RunStatusRunning},
			byKey: make(map[string]model.StageRecord),
		}
		s.runs[runID] = rs
	}

	rec := toRecord(ev)
	if existing, ok := rs.byKey[rec.Key]; ok {
		rec = Merge(existing, rec)
		if s.mergesFolded != nil {
			s.mergesFolded.Add(ctx, 1)
		}
	}
	rs.byKey[rec.Key] = rec
	rs.rebuild()

	if s.eventsApplied != nil {
		s.eventsApplied.Add(ctx, 1)
	}
	return rs.snapshot()
}

// SetRunStatus records the upstream engine's own view of the run.
// Unknown run ids create the run so a late status message is not lost.
func (s *Store) SetRunStatus(runID string, status model.RunStatus) model.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.runs[runID]
	if !ok {
		rs = &runState{
			meta:  model.RunRecord{RunID: runID},
			byKey: make(map[string]model.StageRecord),
		}
		s.runs[runID] = rs
	}
	rs.meta.Status = status
	rs.meta.UpdatedAt = time.Now().UTC()
	return rs.snapshot()
}

// SetRunMeta records the order id and declared stage total for a run.
func (s *Store) SetRunMeta(runID, orderID string, totalStages int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.runs[runID]
	if !ok {
		rs = &runState{
			meta:  model.RunRecord{RunID: runID, Status: model.RunStatusRunning},
			byKey: make(map[string]model.StageRecord),
		}
		s.runs[runID] = rs
	}
	if orderID != "" {
		rs.meta.OrderID = orderID
	}
	if totalStages > 0 {
		rs.meta.TotalStages = totalStages
	}
}

// Run returns the reconciled record for runID. The second return is
// false for unknown runs.
func (s *Store) Run(runID string) (model.RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.runs[runID]
	if !ok {
		return model.RunRecord{}, false
	}
	return rs.snapshot(), true
}

// RunIDs returns the ids of all live runs.
func (s *Store) RunIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// Delete removes a run's records. No-op for unknown runs.
func (s *Store) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// Export returns a deep copy of every run record, keyed by run id, for
// the snapshot/recovery surface.
func (s *Store) Export() map[string]model.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.RunRecord, len(s.runs))
	for id, rs := range s.runs {
		out[id] = rs.snapshot()
	}
	return out
}

// Restore replaces the store's contents with previously exported run
// records. Records are re-keyed and re-sorted, so a snapshot produced
// by an older rule set still folds correctly.
func (s *Store) Restore(runs map[string]model.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]*runState, len(runs))
	for id, run := range runs {
		rs := &runState{
			meta: model.RunRecord{
				RunID:       id,
				OrderID:     run.OrderID,
				Status:      run.Status,
				TotalStages: run.TotalStages,
				UpdatedAt:   run.UpdatedAt,
			},
			byKey: make(map[string]model.StageRecord, len(run.Stages)),
		}
		for _, rec := range run.Stages {
			if rec.Key == "" {
				rec.Key = CanonicalKey(model.StageEvent{
					StageID: rec.StageID, Name: rec.Name, ToolName: rec.ToolName,
				})
			}
			if existing, ok := rs.byKey[rec.Key]; ok {
				rec = Merge(existing, rec)
			}
			rs.byKey[rec.Key] = rec
		}
		rs.rebuild()
		s.runs[id] = rs
	}
	if s.logger != nil {
		s.logger.Info("reconcile: store restored", "runs", len(runs))
	}
}

// rebuild refreshes the ordered view after a mutation. Caller holds the
// write lock.
func (rs *runState) rebuild() {
	rs.ordered = rs.ordered[:0]
	for _, rec := range rs.byKey {
		rs.ordered = append(rs.ordered, rec)
	}
	SortRecords(rs.ordered)
	rs.meta.UpdatedAt = time.Now().UTC()
}

// snapshot returns a copy of the run record safe to hand to readers.
func (rs *runState) snapshot() model.RunRecord {
	out := rs.meta
	out.Stages = make([]model.StageRecord, len(rs.ordered))
	copy(out.Stages, rs.ordered)
	return out
}
