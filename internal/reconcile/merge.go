package reconcile

import (
	"time"

	"github.com/ordersight/ordersight/internal/model"
)

// observedAt returns the most recent timestamp attached to a record,
// used only for tie-breaking between equal-rank observations.
func observedAt(r model.StageRecord) time.Time {
	var t time.Time
	if r.StartedAt != nil {
		t = *r.StartedAt
	}
	if r.EndedAt != nil && r.EndedAt.After(t) {
		t = *r.EndedAt
	}
	return t
}

// Merge folds two records sharing a canonical key into one. The record
// with the higher status rank becomes primary (ties broken by later
// timestamp); the result takes the primary's status, the earliest start,
// the maximum progress, and the primary's output/error/tool name with
// the secondary as fallback. Terminal statuses are sticky: a stage once
// observed completed, failed or skipped cannot be downgraded by a late
// active or pending event.
func Merge(a, b model.StageRecord) model.StageRecord {
	primary, secondary := a, b
	if b.Status.Rank() > a.Status.Rank() ||
		(b.Status.Rank() == a.Status.Rank() && observedAt(b).After(observedAt(a))) {
		primary, secondary = b, a
	}

	out := model.StageRecord{
		Key:    primary.Key,
		Status: primary.Status,
	}

	out.StageID = firstNonEmpty(primary.StageID, secondary.StageID)
	out.Name = firstNonEmpty(primary.Name, secondary.Name)
	out.ToolName = firstNonEmpty(primary.ToolName, secondary.ToolName)
	out.Error = firstNonEmpty(primary.Error, secondary.Error)

	out.StartedAt = earliest(primary.StartedAt, secondary.StartedAt)
	if out.Status.IsTerminal() {
		out.EndedAt = latest(primary.EndedAt, secondary.EndedAt)
	} else {
		out.EndedAt = primary.EndedAt
	}

	out.Progress = maxProgress(primary.Progress, secondary.Progress)

	out.Output = primary.Output
	if out.Output == nil {
		out.Output = secondary.Output
	}

	if len(primary.Logs) > 0 || len(secondary.Logs) > 0 {
		out.Logs = append(append([]string{}, primary.Logs...), secondary.Logs...)
	}

	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Before(*a) {
		return b
	}
	return a
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}

func maxProgress(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *b > *a {
		return b
	}
	return a
}
