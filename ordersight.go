// Package ordersight is the public surface of the workflow event
// reconciliation engine behind the order-pipeline dashboard.
//
// The engine consumes a continuous, unordered, possibly-duplicated
// stream of stage-progress events for each execution run and produces
// a canonical deduplicated stage set, a completion verdict derived from
// noisy heterogeneous event content, a structured completion summary,
// and a debounced single-shot "show completion" signal.
//
//	eng := ordersight.New(ordersight.WithLogger(logger))
//	run := eng.ApplyEvent(ctx, runID, event)
//	if v := eng.CheckCompletion(run); v.IsCompleted {
//	    eng.MarkTrigger(runID, v.Kind, v.TriggerStageID, v.Data, onShow)
//	}
//
// The import graph enforces a strict no-cycle rule: ordersight (root)
// imports internal/*, but internal/* never imports the root.
package ordersight

import (
	"context"
	"log/slog"
	"time"

	"github.com/ordersight/ordersight/internal/completion"
	"github.com/ordersight/ordersight/internal/extract"
	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/reconcile"
	"github.com/ordersight/ordersight/internal/rules"
	"github.com/ordersight/ordersight/internal/snapshot"
)

// Re-exported domain types; the engine's callers should not need to
// import internal packages.
type (
	StageEvent      = model.StageEvent
	EventInput      = model.EventInput
	StageRecord     = model.StageRecord
	RunRecord       = model.RunRecord
	CompletionData  = model.CompletionData
	CompletionState = model.CompletionState
	TriggerKind     = model.TriggerKind
	Verdict         = completion.Verdict
	Snapshot        = snapshot.Snapshot
	Rules           = rules.Rules
)

// DefaultRules returns the embedded detection and extraction rule
// tables.
func DefaultRules() Rules { return rules.Default() }

// LoadRules reads a rule document from disk, for callers that override
// the embedded tables with a deployment-specific tool set.
func LoadRules(path string) (Rules, error) { return rules.LoadFile(path) }

// Engine bundles the run store, completion detector, extractor and
// display state machine behind one handle. All operations are safe for
// concurrent use; concurrent runs share no state.
type Engine struct {
	store     *reconcile.Store
	detector  *completion.Detector
	extractor *extract.Extractor
	machine   *completion.Machine
	logger    *slog.Logger
}

// New constructs an Engine. Without options it uses the embedded rule
// tables, the default debounce window and slog's default logger.
func New(opts ...Option) *Engine {
	o := resolvedOptions{
		rules:    rules.Default(),
		debounce: completion.DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	x := extract.New(o.rules)
	return &Engine{
		store:     reconcile.NewStore(o.logger),
		detector:  completion.NewDetector(o.rules, x),
		extractor: x,
		machine:   completion.NewMachine(o.logger, o.debounce),
		logger:    o.logger,
	}
}

// ApplyEvent folds one raw event into the run's record set and returns
// the updated RunRecord. Malformed events are normalized with safe
// defaults; ApplyEvent never fails.
func (e *Engine) ApplyEvent(ctx context.Context, runID string, in EventInput) RunRecord {
	return e.store.ApplyEvent(ctx, runID, in.Normalize())
}

// SetRunStatus records the upstream engine's run-level status.
func (e *Engine) SetRunStatus(runID string, status model.RunStatus) RunRecord {
	return e.store.SetRunStatus(runID, status)
}

// SetRunMeta records the order id and declared stage total for a run.
func (e *Engine) SetRunMeta(runID, orderID string, totalStages int) {
	e.store.SetRunMeta(runID, orderID, totalStages)
}

// Run returns the reconciled record for runID, false if unknown.
func (e *Engine) Run(runID string) (RunRecord, bool) {
	return e.store.Run(runID)
}

// RunIDs lists the ids of all runs the engine currently tracks.
func (e *Engine) RunIDs() []string {
	return e.store.RunIDs()
}

// Deduplicate folds a batch of raw events into ordered canonical
// records. Used when re-deriving run state from a persisted event log.
func (e *Engine) Deduplicate(inputs []EventInput) []StageRecord {
	events := make([]StageEvent, len(inputs))
	for i, in := range inputs {
		events[i] = in.Normalize()
	}
	return reconcile.Deduplicate(events)
}

// CheckCompletion evaluates whether the run is finished for display
// purposes, independent of any explicit upstream signal.
func (e *Engine) CheckCompletion(run RunRecord) Verdict {
	return e.detector.Check(run)
}

// ExtractCompletionData assembles the structured completion summary.
// Every field is a parsed value or the Unknown sentinel.
func (e *Engine) ExtractCompletionData(run RunRecord) CompletionData {
	return e.extractor.CompletionData(run)
}

// MarkTrigger records a positive completion verdict and (re)starts the
// debounce timer toward onShow. See completion.Machine.MarkTrigger.
func (e *Engine) MarkTrigger(runID string, kind TriggerKind, stageID string, data CompletionData, onShow func()) {
	e.machine.MarkTrigger(runID, kind, stageID, data, onShow)
}

// BlockPrematureTrigger records a source that tried to declare
// completion on its own. Diagnostic only.
func (e *Engine) BlockPrematureTrigger(runID, source string) {
	e.machine.BlockPrematureTrigger(runID, source)
}

// MarkShown marks the completion card as displayed.
func (e *Engine) MarkShown(runID string) { e.machine.MarkShown(runID) }

// MarkDismissed marks the completion card as dismissed by the user.
func (e *Engine) MarkDismissed(runID string) { e.machine.MarkDismissed(runID) }

// ShouldPreventShow reports whether the card was already shown or
// dismissed for this run.
func (e *Engine) ShouldPreventShow(runID string) bool {
	return e.machine.ShouldPreventShow(runID)
}

// Reset returns the run's completion lifecycle to Idle and drops its
// stage records. Callers must reset abandoned runs themselves; there is
// no implicit cancellation on teardown.
func (e *Engine) Reset(runID string) {
	e.machine.Reset(runID)
	e.store.Delete(runID)
}

// GetState returns the run's completion state (zero value if unknown).
func (e *Engine) GetState(runID string) CompletionState {
	return e.machine.State(runID)
}

// Export captures the engine's full per-run state as a plain snapshot
// tagged with the current time.
func (e *Engine) Export() Snapshot {
	return Snapshot{
		SavedAt:    time.Now().UTC(),
		Runs:       e.store.Export(),
		Completion: e.machine.Export(),
	}
}

// Restore replaces the engine's state from a snapshot. Callers enforce
// the snapshot age ceiling (the snapshot store discards stale rows on
// load).
func (e *Engine) Restore(snap Snapshot) {
	e.store.Restore(snap.Runs)
	e.machine.Restore(snap.Completion)
}
