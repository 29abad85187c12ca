package model

import "time"

// StageRecord is the canonical fold of all events sharing a dedup key
// within one run. Created on the first event for a key, updated on each
// subsequent one, never deleted while the run lives.
type StageRecord struct {
	Key       string      `json:"key"`
	StageID   string      `json:"stage_id,omitempty"`
	Name      string      `json:"name"`
	ToolName  string      `json:"tool_name,omitempty"`
	Status    StageStatus `json:"status"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Progress  *float64    `json:"progress,omitempty"`
	Output    any         `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Logs      []string    `json:"logs,omitempty"`
}

// RunRecord is the reconciled view of one pipeline run: deduplicated
// stage records in chronological order plus run metadata.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	OrderID     string        `json:"order_id,omitempty"`
	Status      RunStatus     `json:"status"`
	Stages      []StageRecord `json:"stages"`
	TotalStages int           `json:"total_stages,omitempty"` // declared by the engine, 0 if unknown
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TerminalCount returns the number of stages that reached a terminal
// status (completed, failed or skipped).
func (r RunRecord) TerminalCount() int {
	n := 0
	for _, s := range r.Stages {
		if s.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// CompletedCount returns the number of stages with status completed.
func (r RunRecord) CompletedCount() int {
	n := 0
	for _, s := range r.Stages {
		if s.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// FinishedCount returns the number of stages that completed or failed.
// Skipped stages are excluded: a skipped stage never did its work.
func (r RunRecord) FinishedCount() int {
	n := 0
	for _, s := range r.Stages {
		if s.Status == StatusCompleted || s.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Progress returns the run's aggregate progress in [0, 1]:
// completed-or-failed count over max(declared total, observed count).
// A run with no stages has progress 0.
func (r RunRecord) Progress() float64 {
	total := r.TotalStages
	if observed := len(r.Stages); observed > total {
		total = observed
	}
	if total == 0 {
		return 0
	}
	return float64(r.FinishedCount()) / float64(total)
}
