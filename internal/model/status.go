// Package model defines the core domain types for Ordersight.
//
// Types use strong typing (enums, time.Time) and avoid interface{}
// wherever possible; the one exception is StageEvent.Output, which
// carries whatever the upstream execution engine emitted (free-form
// string or JSON object).
package model

// StageStatus is the lifecycle state of a pipeline stage.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusWaiting   StageStatus = "waiting"
	StatusActive    StageStatus = "active"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// statusRank is the total order used when folding conflicting
// observations of the same stage. All terminal statuses share the top
// rank so a completed stage is never downgraded by a late failure echo
// and vice versa.
var statusRank = map[StageStatus]int{
	StatusPending:   1,
	StatusWaiting:   2,
	StatusActive:    3,
	StatusCompleted: 4,
	StatusFailed:    4,
	StatusSkipped:   4,
}

// Rank returns the merge precedence of s. Unknown statuses rank as
// pending.
func (s StageStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return statusRank[StatusPending]
}

// IsTerminal reports whether no further transition is possible.
func (s StageStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Valid reports whether s is one of the known lifecycle states.
func (s StageStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// NormalizeStatus maps upstream status spellings onto the canonical
// set. The execution engine emits "started" for stages that just began
// and "in_progress" for mid-flight updates; both fold to active.
// Anything unrecognized defaults to pending.
func NormalizeStatus(raw string) StageStatus {
	switch StageStatus(raw) {
	case StatusPending, StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusSkipped:
		return StageStatus(raw)
	}
	switch raw {
	case "started", "in_progress", "running":
		return StatusActive
	case "error":
		return StatusFailed
	case "cancelled", "canceled":
		return StatusSkipped
	}
	return StatusPending
}

// RunStatus is the overall lifecycle state of a pipeline run as
// reported by the upstream engine.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished from the upstream
// engine's point of view.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// NormalizeRunStatus maps upstream run-status spellings onto the
// canonical set. Anything unrecognized defaults to running.
func NormalizeRunStatus(raw string) RunStatus {
	switch RunStatus(raw) {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return RunStatus(raw)
	}
	switch raw {
	case "complete", "done", "succeeded":
		return RunStatusCompleted
	case "error":
		return RunStatusFailed
	case "canceled":
		return RunStatusCancelled
	}
	return RunStatusRunning
}
