package reconcile

import (
	"sort"
	"time"

	"github.com/ordersight/ordersight/internal/model"
)

// toRecord lifts an event into an unmerged record carrying its
// canonical key.
func toRecord(ev model.StageEvent) model.StageRecord {
	return model.StageRecord{
		Key:       CanonicalKey(ev),
		StageID:   ev.StageID,
		Name:      ev.Name,
		ToolName:  ev.ToolName,
		Status:    ev.Status,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
		Progress:  ev.Progress,
		Output:    ev.Output,
		Error:     ev.Error,
		Logs:      ev.Logs,
	}
}

// Deduplicate folds a batch of events into one record per canonical
// key and returns the records in chronological order. The operation is
// idempotent and permutation-stable: any ordering of the same event set
// produces the same output. Used when re-deriving run state from a
// persisted event log; the incremental path is Store.ApplyEvent.
func Deduplicate(events []model.StageEvent) []model.StageRecord {
	byKey := make(map[string]model.StageRecord, len(events))
	for _, ev := range events {
		rec := toRecord(ev)
		if existing, ok := byKey[rec.Key]; ok {
			rec = Merge(existing, rec)
		}
		byKey[rec.Key] = rec
	}

	records := make([]model.StageRecord, 0, len(byKey))
	for _, rec := range byKey {
		records = append(records, rec)
	}
	SortRecords(records)
	return records
}

// SortRecords orders records ascending by (start time, end time,
// label). Missing timestamps sort as the zero time, tie-broken by
// label, so repeated calls over the same set are deterministic.
func SortRecords(records []model.StageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		si, sj := timeOrZero(records[i].StartedAt), timeOrZero(records[j].StartedAt)
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		ei, ej := timeOrZero(records[i].EndedAt), timeOrZero(records[j].EndedAt)
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		// Final tiebreak on the key keeps the order total, so map
		// iteration order never leaks into the output.
		return records[i].Key < records[j].Key
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
