package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersight/ordersight/internal/extract"
	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/rules"
)

func newTestDetector() *Detector {
	r := rules.Default()
	return NewDetector(r, extract.New(r))
}

func completed(name string) model.StageRecord {
	return model.StageRecord{Name: name, Status: model.StatusCompleted}
}

func TestCheckEmptyRunNeverCompletes(t *testing.T) {
	d := newTestDetector()
	v := d.Check(model.RunRecord{RunID: "run-1"})
	assert.False(t, v.IsCompleted)
	assert.Equal(t, model.TriggerNone, v.Kind)
}

func TestCheckConfirmationStage(t *testing.T) {
	// A completed email stage is sufficient on its own, whatever its
	// output looks like.
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{Name: "Validate Inventory", Status: model.StatusActive},
			{
				StageID: "gmail_send_email_0",
				Name:    "Portia Google Send Email Tool",
				Status:  model.StatusCompleted,
			},
		},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, model.TriggerEmailConfirmation, v.Kind)
	assert.Equal(t, "gmail_send_email_0", v.TriggerStageID)
}

func TestCheckConfirmationStageNotCompletedYet(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{Name: "Send Email", Status: model.StatusActive},
		},
	}
	assert.False(t, d.Check(run).IsCompleted)
}

func TestCheckConfirmationPhraseInOutput(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{
				Key:    "name:wrapup",
				Name:   "Wrap Up",
				Status: model.StatusCompleted,
				Output: "All done. Order placed successfully; receipt emailed.",
			},
		},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, model.TriggerEmailConfirmation, v.Kind)
	assert.Equal(t, "name:wrapup", v.TriggerStageID, "falls back to the dedup key")
}

func TestCheckPhraseIgnoredOnNonTerminalStage(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{Name: "Wrap Up", Status: model.StatusActive, Output: "order confirmed"},
		},
	}
	assert.False(t, d.Check(run).IsCompleted)
}

func TestCheckHeuristicLedgerPlusPayment(t *testing.T) {
	// No confirmation stage at all: five stages, payment and ledger
	// finished. The ledger anchor marks the strongest available proof.
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			completed("Validate Inventory"),
			{ToolName: "stripe_payment", Status: model.StatusCompleted},
			{ToolName: "blockchain_anchor", Status: model.StatusCompleted},
			{Name: "Reserve Stock", Status: model.StatusActive},
		},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, model.TriggerBlockchainConfirmation, v.Kind)
	assert.Empty(t, v.TriggerStageID, "heuristic verdicts have no single trigger stage")
}

func TestCheckHeuristicFinalizationWithHighRatio(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			completed("Validate Inventory"),
			completed("Reserve Stock"),
			{Name: "Finalize Order", Status: model.StatusCompleted},
		},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, model.TriggerManual, v.Kind)
}

func TestCheckHeuristicRespectsDeclaredTotal(t *testing.T) {
	// Same stage set, but the engine declared ten stages: the ratio
	// collapses and the verdict flips to not-completed.
	d := newTestDetector()
	run := model.RunRecord{
		RunID:       "run-1",
		TotalStages: 10,
		Stages: []model.StageRecord{
			completed("Validate Inventory"),
			completed("Reserve Stock"),
			{Name: "Finalize Order", Status: model.StatusCompleted},
		},
	}
	assert.False(t, d.Check(run).IsCompleted)
}

func TestCheckHeuristicCompletedFloor(t *testing.T) {
	// Five completed stages with no recognizable kind: the count-based
	// rule accepts on completed count alone.
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			completed("Validate Inventory"),
			completed("Reserve Stock"),
			completed("Compute Pricing"),
			completed("Plan Route"),
			completed("Pack Items"),
		},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, model.TriggerManual, v.Kind)
}

func TestCheckAllFailedRunNotCompleted(t *testing.T) {
	// Every stage terminal, none completed: the count floor counts
	// completed stages only, so a wholly failed run never pops the
	// completion card.
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{Name: "Validate Inventory", Status: model.StatusFailed},
			{Name: "Reserve Stock", Status: model.StatusFailed},
			{Name: "Compute Pricing", Status: model.StatusFailed},
			{Name: "Plan Route", Status: model.StatusFailed},
			{Name: "Pack Items", Status: model.StatusFailed},
		},
	}

	assert.False(t, d.Check(run).IsCompleted)
}

func TestCheckHeuristicRunStatusTerminal(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID:  "run-1",
		Status: model.RunStatusCompleted,
		Stages: []model.StageRecord{completed("Validate Inventory")},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, model.TriggerManual, v.Kind)
}

func TestCheckNotCompleted(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{Name: "Validate Inventory", Status: model.StatusActive},
			{ToolName: "stripe_payment", Status: model.StatusWaiting},
		},
	}
	assert.False(t, d.Check(run).IsCompleted)
}

func TestCheckMonotoneUnderAddedCompletedStages(t *testing.T) {
	// Once a run is judged complete, adding further completed stages can
	// never flip it back.
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{ToolName: "stripe_payment", Status: model.StatusCompleted},
			{ToolName: "blockchain_anchor", Status: model.StatusCompleted},
		},
	}
	require.True(t, d.Check(run).IsCompleted)

	for _, extraName := range []string{"Audit Log", "Archive Run", "Cleanup"} {
		run.Stages = append(run.Stages, completed(extraName))
		assert.True(t, d.Check(run).IsCompleted, "adding %s must not undo completion", extraName)
	}
}

func TestCheckAttachesExtractedData(t *testing.T) {
	d := newTestDetector()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{
				ToolName: "stripe_payment",
				Status:   model.StatusCompleted,
				Output:   map[string]any{"payment_link": "https://checkout.stripe.com/c/pay/cs_test_a1"},
			},
			{ToolName: "blockchain_anchor", Status: model.StatusCompleted},
		},
	}

	v := d.Check(run)
	require.True(t, v.IsCompleted)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_a1", v.Data.PaymentReference)
	assert.Equal(t, model.Unknown, v.Data.OrderID)
}
