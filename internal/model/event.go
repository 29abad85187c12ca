package model

import (
	"strings"
	"time"
)

// DefaultStageName labels events that arrive without any usable label.
const DefaultStageName = "Unnamed Stage"

// StageEvent is one observation of a pipeline stage, as emitted by the
// upstream execution engine. Events are immutable once observed: the
// reconciliation layer folds them into StageRecords, it never mutates
// them in place.
type StageEvent struct {
	StageID   string      `json:"stage_id,omitempty"`
	Name      string      `json:"name"`
	ToolName  string      `json:"tool_name,omitempty"`
	Status    StageStatus `json:"status"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Progress  *float64    `json:"progress,omitempty"` // percent, 0-100
	Output    any         `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Logs      []string    `json:"logs,omitempty"`
}

// EventInput is the wire shape accepted at the ingestion boundary.
// Status arrives as a raw string because the upstream engine uses a
// wider vocabulary than the canonical set ("started", "in_progress").
type EventInput struct {
	StageID   string     `json:"stage_id" validate:"omitempty,max=256"`
	Name      string     `json:"name" validate:"omitempty,max=512"`
	ToolName  string     `json:"tool_name" validate:"omitempty,max=256"`
	Status    string     `json:"status" validate:"omitempty,max=64"`
	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Progress  *float64   `json:"progress" validate:"omitempty,gte=0,lte=100"`
	Output    any        `json:"output"`
	Error     string     `json:"error"`
	Logs      []string   `json:"logs" validate:"omitempty,dive,max=4096"`
}

// Normalize converts a raw wire event into a StageEvent with safe
// defaults. It never fails: a malformed event becomes an unnamed
// pending stage rather than an error.
func (in EventInput) Normalize() StageEvent {
	ev := StageEvent{
		StageID:   strings.TrimSpace(in.StageID),
		Name:      strings.TrimSpace(in.Name),
		ToolName:  strings.TrimSpace(in.ToolName),
		Status:    NormalizeStatus(strings.TrimSpace(in.Status)),
		StartedAt: in.StartedAt,
		EndedAt:   in.EndedAt,
		Progress:  in.Progress,
		Output:    in.Output,
		Error:     strings.TrimSpace(in.Error),
		Logs:      in.Logs,
	}
	if ev.Name == "" {
		if ev.ToolName != "" {
			ev.Name = ev.ToolName
		} else {
			ev.Name = DefaultStageName
		}
	}
	if ev.Progress != nil {
		p := *ev.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		ev.Progress = &p
	}
	return ev
}
