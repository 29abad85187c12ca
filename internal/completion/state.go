package completion

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ordersight/ordersight/internal/model"
)

// DefaultDebounce is the quiet period a positive verdict must survive
// before the show callback fires. A second verdict inside the window
// supersedes the first (last-verdict-wins).
const DefaultDebounce = time.Second

// phase is the internal lifecycle position of one run's completion
// display. Idle is the absorbing start state, reachable again only via
// explicit reset.
type phase int

const (
	phaseIdle phase = iota
	phaseCompleting
	phaseShown
	phaseDismissed
)

// Machine is the per-run completion display state machine:
// Idle → Completing → Shown → Dismissed, any state → Idle on reset.
// It guarantees the show callback fires at most once per cycle and that
// exactly one debounce timer is live per run.
//
// Operations against an unknown run id are no-ops returning zero
// values; invariant violations are logged at Warn and ignored. The
// machine is an explicit handle, shared state is limited to the one
// per-run map behind the mutex.
type Machine struct {
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	runs      map[string]*runCompletion
	nextCycle uint64
}

type runCompletion struct {
	phase phase
	state model.CompletionState
	timer *time.Timer
	// cycle invalidates callbacks from superseded or reset timers: the
	// timer captures the value at scheduling and fires only if it still
	// matches. Drawn from the machine-wide counter so a reset followed
	// by a fresh trigger can never reuse a value.
	cycle uint64
}

// NewMachine creates a completion state machine. A non-positive
// debounce falls back to DefaultDebounce.
func NewMachine(logger *slog.Logger, debounce time.Duration) *Machine {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		logger:   logger,
		debounce: debounce,
		runs:     make(map[string]*runCompletion),
	}
}

// MarkTrigger records a positive completion verdict for a run and
// (re)starts the debounce timer toward onShow.
//
// Idle → Completing: stores kind, timestamp and the data snapshot.
// Completing → Completing: cancels and restarts the timer, replacing
// the stored snapshot. After Shown or Dismissed the trigger is recorded
// as rejected and the callback never fires again until reset.
func (m *Machine) MarkTrigger(runID string, kind model.TriggerKind, stageID string, data model.CompletionData, onShow func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok {
		rc = &runCompletion{}
		m.runs[runID] = rc
	}

	if rc.phase == phaseShown || rc.phase == phaseDismissed {
		rc.state.RejectedAfter = append(rc.state.RejectedAfter, kind)
		m.logger.Debug("completion: trigger after show, rejected",
			"run_id", runID, "kind", string(kind))
		return
	}

	now := time.Now().UTC()
	rc.phase = phaseCompleting
	rc.state.IsCompleted = true
	rc.state.Trigger = kind
	rc.state.TriggerStageID = stageID
	rc.state.CompletedAt = &now
	rc.state.Data = data

	if rc.timer != nil {
		rc.timer.Stop()
	}
	m.nextCycle++
	rc.cycle = m.nextCycle
	cycle := rc.cycle
	rc.timer = time.AfterFunc(m.debounce, func() {
		m.fire(runID, cycle, onShow)
	})
}

// fire runs when a debounce timer elapses. The callback is invoked
// outside the mutex; the cycle check drops superseded and reset timers.
func (m *Machine) fire(runID string, cycle uint64, onShow func()) {
	m.mu.Lock()
	rc, ok := m.runs[runID]
	if !ok || rc.cycle != cycle || rc.phase != phaseCompleting {
		m.mu.Unlock()
		return
	}
	rc.phase = phaseShown
	rc.state.HasShownCard = true
	rc.timer = nil
	m.mu.Unlock()

	if onShow != nil {
		onShow()
	}
}

// MarkShown records that the caller displayed the completion card
// itself (e.g. restored from a snapshot), blocking future triggers.
func (m *Machine) MarkShown(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok {
		rc = &runCompletion{}
		m.runs[runID] = rc
	}
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
	m.nextCycle++
	rc.cycle = m.nextCycle
	rc.phase = phaseShown
	rc.state.HasShownCard = true
}

// MarkDismissed records the user's dismissal of the completion card.
// Dismissing from Idle is an invariant violation: logged, ignored.
func (m *Machine) MarkDismissed(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok || rc.phase == phaseIdle {
		m.logger.Warn("completion: dismiss without show", "run_id", runID)
		return
	}
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
	m.nextCycle++
	rc.cycle = m.nextCycle
	rc.phase = phaseDismissed
	rc.state.CardDismissed = true
}

// BlockPrematureTrigger records a source that attempted to declare
// completion on its own (e.g. a financial stage). Diagnostic only; it
// causes no transition.
func (m *Machine) BlockPrematureTrigger(runID, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok {
		rc = &runCompletion{}
		m.runs[runID] = rc
	}
	rc.state.BlockedSources = append(rc.state.BlockedSources, source)
}

// ShouldPreventShow reports whether the card has already been shown or
// dismissed for this run. Unknown run ids return false.
func (m *Machine) ShouldPreventShow(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok {
		return false
	}
	return rc.state.HasShownCard || rc.state.CardDismissed
}

// Reset returns the run to Idle: clears all completion fields and
// cancels any pending timer. The only way back from Shown/Dismissed.
func (m *Machine) Reset(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok {
		return
	}
	if rc.timer != nil {
		rc.timer.Stop()
	}
	delete(m.runs, runID)
}

// State returns a copy of the run's completion state. Unknown run ids
// return the zero state.
func (m *Machine) State(runID string) model.CompletionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.runs[runID]
	if !ok {
		return model.CompletionState{}
	}
	return rc.state
}

// Export returns a copy of every run's completion state for the
// snapshot surface. Pending debounce timers are not exported; a
// restored Completing run re-triggers on its next positive verdict.
func (m *Machine) Export() map[string]model.CompletionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]model.CompletionState, len(m.runs))
	for id, rc := range m.runs {
		out[id] = rc.state
	}
	return out
}

// Restore replaces the machine's contents with snapshotted states.
// Live timers for dropped runs are cancelled.
func (m *Machine) Restore(states map[string]model.CompletionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rc := range m.runs {
		if rc.timer != nil {
			rc.timer.Stop()
		}
	}
	m.runs = make(map[string]*runCompletion, len(states))
	for id, st := range states {
		p := phaseIdle
		switch {
		case st.CardDismissed:
			p = phaseDismissed
		case st.HasShownCard:
			p = phaseShown
		case st.IsCompleted:
			p = phaseCompleting
		}
		m.runs[id] = &runCompletion{phase: p, state: st}
	}
}
