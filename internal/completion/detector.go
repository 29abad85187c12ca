// Package completion decides when a run is finished for display
// purposes and drives the debounced, single-shot completion card state
// machine.
//
// The upstream engine cannot be trusted to always emit an explicit
// "run finished" signal, so detection is tiered: an explicit
// confirmation stage, then confirmation phrases in stage outputs, then
// a bounded heuristic over the overall stage set. The detector is pure
// and total for any well-formed RunRecord.
package completion

import (
	"strings"

	"github.com/ordersight/ordersight/internal/extract"
	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/rules"
)

// Verdict is the detector's output for one evaluation.
type Verdict struct {
	IsCompleted bool
	// TriggerStageID is the stage that triggered detection, empty when
	// the heuristic tier fired (no single stage is responsible).
	TriggerStageID string
	Kind           model.TriggerKind
	Data           model.CompletionData
}

// Detector evaluates run records against the completion rule tables.
type Detector struct {
	rules     rules.Rules
	extractor *extract.Extractor
}

// NewDetector creates a detector. The extractor supplies the
// completion-data snapshot attached to positive verdicts.
func NewDetector(r rules.Rules, x *extract.Extractor) *Detector {
	return &Detector{rules: r, extractor: x}
}

// Check evaluates whether the run is finished. Tiers are evaluated in
// order and the first match wins. An empty stage list is never
// complete. Once true for a run, the verdict stays true for any run
// formed by adding further completed stages.
func (d *Detector) Check(run model.RunRecord) Verdict {
	if len(run.Stages) == 0 {
		return Verdict{}
	}

	// Primary: a completed confirmation/notification stage is
	// sufficient regardless of its output content.
	for _, rec := range run.Stages {
		if rec.Status == model.StatusCompleted && d.rules.Kinds.Confirmation.Matches(rec) {
			return d.positive(run, triggerID(rec), model.TriggerEmailConfirmation)
		}
	}

	// Secondary: a confirmation phrase in any completed stage's output.
	for _, rec := range run.Stages {
		if rec.Status != model.StatusCompleted || rec.Output == nil {
			continue
		}
		text := strings.ToLower(extract.Stringify(rec.Output))
		for _, phrase := range d.rules.ConfirmationPhrases {
			if phrase != "" && strings.Contains(text, strings.ToLower(phrase)) {
				return d.positive(run, triggerID(rec), model.TriggerEmailConfirmation)
			}
		}
	}

	// Tertiary: heuristic convergence for runs where the engine never
	// emitted a confirmation stage. No single trigger stage.
	if ok, kind := d.heuristic(run); ok {
		return d.positive(run, "", kind)
	}

	return Verdict{}
}

// heuristic is the fixed disjunction of conjunctive rules over the
// overall stage set. Every conjunct is monotone under adding completed
// stages, which keeps the detector's verdict monotone too.
func (d *Detector) heuristic(run model.RunRecord) (bool, model.TriggerKind) {
	var (
		paymentDone      = d.anyCompleted(run, d.rules.Kinds.Payment)
		ledgerDone       = d.anyCompleted(run, d.rules.Kinds.Ledger)
		finalizationDone = d.anyCompleted(run, d.rules.Kinds.Finalization)
		ratio            = run.Progress()
		completedCount   = run.CompletedCount()
		ratioOK          = ratio >= d.rules.Heuristics.CompletionRatio
	)

	accepted := run.Status == model.RunStatusCompleted ||
		(ledgerDone && paymentDone) ||
		(finalizationDone && ratioOK) ||
		(paymentDone && ratioOK) ||
		(completedCount >= d.rules.Heuristics.CompletedFloor && ratioOK)
	if !accepted {
		return false, model.TriggerNone
	}
	if ledgerDone {
		return true, model.TriggerBlockchainConfirmation
	}
	return true, model.TriggerManual
}

func (d *Detector) anyCompleted(run model.RunRecord, m rules.StageMatcher) bool {
	for _, rec := range run.Stages {
		if rec.Status == model.StatusCompleted && m.Matches(rec) {
			return true
		}
	}
	return false
}

func (d *Detector) positive(run model.RunRecord, stageID string, kind model.TriggerKind) Verdict {
	v := Verdict{
		IsCompleted:    true,
		TriggerStageID: stageID,
		Kind:           kind,
		Data:           model.UnknownCompletionData(),
	}
	if d.extractor != nil {
		v.Data = d.extractor.CompletionData(run)
	}
	return v
}

// triggerID prefers the upstream stage id and falls back to the dedup
// key so the trigger is always addressable.
func triggerID(rec model.StageRecord) string {
	if rec.StageID != "" {
		return rec.StageID
	}
	return rec.Key
}
