package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersight/ordersight/internal/model"
)

func ptr[T any](v T) *T { return &v }

func ts(sec int) *time.Time {
	t := time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
	return &t
}

// --- Canonical key ---

func TestCanonicalKeyPriority(t *testing.T) {
	tests := []struct {
		name string
		ev   model.StageEvent
		want string
	}{
		{
			name: "uuid stage id wins over tool name",
			ev: model.StageEvent{
				StageID:  "b0a55c2e-18c7-4b7e-9a6e-3f2d1c0b9a88",
				ToolName: "stripe_payment",
			},
			want: "id:b0a55c2e-18c7-4b7e-9a6e-3f2d1c0b9a88",
		},
		{
			name: "tool-suffix id wins",
			ev:   model.StageEvent{StageID: "stripe_payment_0a1b2c3d", Name: "Payment"},
			want: "id:stripe_payment_0a1b2c3d",
		},
		{
			name: "32-hex id wins",
			ev:   model.StageEvent{StageID: "0123456789abcdef0123456789abcdef", Name: "X"},
			want: "id:0123456789abcdef0123456789abcdef",
		},
		{
			name: "human-readable id falls through to tool",
			ev:   model.StageEvent{StageID: "Step One", ToolName: "Stripe Payment"},
			want: "tool:stripepayment",
		},
		{
			name: "tool name normalized",
			ev:   model.StageEvent{ToolName: "blockchain_anchor_tool"},
			want: "tool:blockchainanchortool",
		},
		{
			name: "name fallback",
			ev:   model.StageEvent{Name: "Finalize Order"},
			want: "name:finalizeorder",
		},
		{
			name: "no signals collapse to unnamed",
			ev:   model.StageEvent{},
			want: "name:unnamedstage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.ev))
		})
	}
}

func TestCanonicalKeyOrderExtractionFamilyCollapses(t *testing.T) {
	spellings := []model.StageEvent{
		{ToolName: "OrderExtractionTool"},
		{ToolName: "order_extraction_tool"},
		{Name: "Order Extraction"},
		{Name: "order extraction step"},
	}
	for _, ev := range spellings {
		assert.Equal(t, "tool:order_extraction", CanonicalKey(ev))
	}
}

func TestIsBackendID(t *testing.T) {
	assert.True(t, isBackendID("b0a55c2e-18c7-4b7e-9a6e-3f2d1c0b9a88"))
	assert.True(t, isBackendID("gmail.send_email_deadbeef"))
	assert.True(t, isBackendID("0123456789abcdef01234567"))
	assert.False(t, isBackendID(""))
	assert.False(t, isBackendID("Step One"))
	assert.False(t, isBackendID("stripe_payment_0A1B2C3D")) // uppercase hex
	assert.False(t, isBackendID("stripe_payment_0a1b2c"))  // too short
}

// --- Merge ---

func TestMergeTerminalSticky(t *testing.T) {
	done := model.StageRecord{Key: "tool:x", Status: model.StatusCompleted, EndedAt: ts(10)}
	late := model.StageRecord{Key: "tool:x", Status: model.StatusActive, StartedAt: ts(20)}

	merged := Merge(done, late)
	assert.Equal(t, model.StatusCompleted, merged.Status)

	// The argument order must not matter.
	swapped := Merge(late, done)
	assert.Equal(t, merged, swapped)
}

func TestMergeFields(t *testing.T) {
	a := model.StageRecord{
		Key:       "tool:pay",
		Name:      "Payment",
		Status:    model.StatusActive,
		StartedAt: ts(5),
		Progress:  ptr(40.0),
		Logs:      []string{"started"},
	}
	b := model.StageRecord{
		Key:       "tool:pay",
		ToolName:  "stripe_payment",
		Status:    model.StatusCompleted,
		StartedAt: ts(8),
		EndedAt:   ts(30),
		Progress:  ptr(100.0),
		Output:    map[string]any{"ok": true},
		Logs:      []string{"done"},
	}

	merged := Merge(a, b)
	assert.Equal(t, model.StatusCompleted, merged.Status)
	assert.Equal(t, "Payment", merged.Name)
	assert.Equal(t, "stripe_payment", merged.ToolName)
	assert.Equal(t, ts(5), merged.StartedAt, "earliest start wins")
	assert.Equal(t, ts(30), merged.EndedAt)
	assert.Equal(t, 100.0, *merged.Progress)
	assert.NotNil(t, merged.Output)
	assert.Len(t, merged.Logs, 2)
}

func TestMergeEqualRankLatestWins(t *testing.T) {
	first := model.StageRecord{Key: "k", Status: model.StatusActive, StartedAt: ts(1), Output: "one"}
	second := model.StageRecord{Key: "k", Status: model.StatusActive, StartedAt: ts(9), Output: "two"}

	merged := Merge(first, second)
	assert.Equal(t, "two", merged.Output)
}

// --- Deduplicate ---

func TestDeduplicateOrderExtractionDuplicates(t *testing.T) {
	// The same logical extraction stage arrives under two spellings, one
	// in-flight and one finished. One completed record must remain.
	events := []model.StageEvent{
		{ToolName: "OrderExtractionTool", Status: model.StatusActive, StartedAt: ts(1)},
		{Name: "order_extraction_tool", Status: model.StatusCompleted, StartedAt: ts(1), EndedAt: ts(4)},
	}

	records := Deduplicate(events)
	require.Len(t, records, 1)
	assert.Equal(t, "tool:order_extraction", records[0].Key)
	assert.Equal(t, model.StatusCompleted, records[0].Status)
}

func TestDeduplicateIdempotent(t *testing.T) {
	events := []model.StageEvent{
		{ToolName: "stripe_payment", Status: model.StatusCompleted, StartedAt: ts(2), EndedAt: ts(5)},
		{Name: "Finalize Order", Status: model.StatusActive, StartedAt: ts(6)},
	}

	once := Deduplicate(events)

	// Feeding the folded records back in as events changes nothing.
	again := make([]model.StageEvent, len(once))
	for i, r := range once {
		again[i] = model.StageEvent{
			StageID: r.StageID, Name: r.Name, ToolName: r.ToolName,
			Status: r.Status, StartedAt: r.StartedAt, EndedAt: r.EndedAt,
			Progress: r.Progress, Output: r.Output, Error: r.Error, Logs: r.Logs,
		}
	}
	assert.Equal(t, once, Deduplicate(again))
}

func TestDeduplicatePermutationStable(t *testing.T) {
	events := []model.StageEvent{
		{ToolName: "OrderExtractionTool", Status: model.StatusCompleted, StartedAt: ts(1), EndedAt: ts(2)},
		{ToolName: "stripe_payment", Status: model.StatusActive, StartedAt: ts(3)},
		{ToolName: "stripe_payment", Status: model.StatusCompleted, StartedAt: ts(3), EndedAt: ts(6)},
		{Name: "Blockchain Anchor", Status: model.StatusCompleted, StartedAt: ts(7), EndedAt: ts(8)},
		{Name: "Send Email", Status: model.StatusPending},
	}

	want := Deduplicate(events)

	reversed := make([]model.StageEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}
	assert.Equal(t, want, Deduplicate(reversed))

	rotated := append(append([]model.StageEvent{}, events[2:]...), events[:2]...)
	assert.Equal(t, want, Deduplicate(rotated))
}

func TestSortRecordsChronological(t *testing.T) {
	records := []model.StageRecord{
		{Key: "c", Name: "Third", StartedAt: ts(30)},
		{Key: "a", Name: "First", StartedAt: ts(10)},
		{Key: "b", Name: "Missing start"},
	}
	SortRecords(records)
	assert.Equal(t, "Missing start", records[0].Name, "zero time sorts first")
	assert.Equal(t, "First", records[1].Name)
	assert.Equal(t, "Third", records[2].Name)
}

// --- Store ---

func newTestStore() *Store {
	return NewStore(slog.New(slog.DiscardHandler))
}

func TestStoreApplyEventCreatesAndMerges(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	run := s.ApplyEvent(ctx, "run-1", model.StageEvent{ToolName: "stripe_payment", Status: model.StatusActive, StartedAt: ts(1)})
	require.Len(t, run.Stages, 1)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	run = s.ApplyEvent(ctx, "run-1", model.StageEvent{ToolName: "Stripe Payment", Status: model.StatusCompleted, StartedAt: ts(1), EndedAt: ts(3)})
	require.Len(t, run.Stages, 1, "same canonical key folds")
	assert.Equal(t, model.StatusCompleted, run.Stages[0].Status)

	run = s.ApplyEvent(ctx, "run-1", model.StageEvent{Name: "Send Email", Status: model.StatusPending})
	assert.Len(t, run.Stages, 2)
}

func TestStoreRunsAreIndependent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.ApplyEvent(ctx, "run-a", model.StageEvent{Name: "X", Status: model.StatusActive})
	s.ApplyEvent(ctx, "run-b", model.StageEvent{Name: "Y", Status: model.StatusActive})

	a, ok := s.Run("run-a")
	require.True(t, ok)
	assert.Len(t, a.Stages, 1)
	assert.Equal(t, "X", a.Stages[0].Name)

	_, ok = s.Run("run-missing")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"run-a", "run-b"}, s.RunIDs())
}

func TestStoreSetRunStatusAndMeta(t *testing.T) {
	s := newTestStore()

	run := s.SetRunStatus("run-1", model.RunStatusCompleted)
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	s.SetRunMeta("run-1", "ORD-77", 7)
	run, ok := s.Run("run-1")
	require.True(t, ok)
	assert.Equal(t, "ORD-77", run.OrderID)
	assert.Equal(t, 7, run.TotalStages)
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(context.Background(), "run-1", model.StageEvent{Name: "X"})
	s.Delete("run-1")
	_, ok := s.Run("run-1")
	assert.False(t, ok)
	s.Delete("run-1") // no-op
}

func TestStoreExportRestoreRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.ApplyEvent(ctx, "run-1", model.StageEvent{ToolName: "stripe_payment", Status: model.StatusCompleted, StartedAt: ts(1), EndedAt: ts(2)})
	s.SetRunMeta("run-1", "ORD-1", 5)

	exported := s.Export()

	restored := newTestStore()
	restored.Restore(exported)

	got, ok := restored.Run("run-1")
	require.True(t, ok)
	want, _ := s.Run("run-1")
	assert.Equal(t, want.Stages, got.Stages)
	assert.Equal(t, "ORD-1", got.OrderID)
}

func TestStoreRestoreRekeysRecords(t *testing.T) {
	// A snapshot written before a rule change may carry records without
	// keys, or with keys that now collide. Restore folds them again.
	s := newTestStore()
	s.Restore(map[string]model.RunRecord{
		"run-1": {
			RunID: "run-1",
			Stages: []model.StageRecord{
				{Name: "Order Extraction", Status: model.StatusActive, StartedAt: ts(1)},
				{ToolName: "OrderExtractionTool", Status: model.StatusCompleted, StartedAt: ts(1), EndedAt: ts(2)},
			},
		},
	})

	run, ok := s.Run("run-1")
	require.True(t, ok)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, "tool:order_extraction", run.Stages[0].Key)
	assert.Equal(t, model.StatusCompleted, run.Stages[0].Status)
}
