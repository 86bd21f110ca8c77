package engine

import (
	"time"

	"github.com/calliope-av/showrunner/internal/scene"
)

// runContext is the scene-scoped execution record, built at run start and
// discarded at run end. Owned exclusively by the loop goroutine.
type runContext struct {
	runID  string
	runSeq uint64
	scene  *scene.Scene

	startedAt   time.Time
	transitions int

	// globalTimers and globalFired track the scene-scoped schedule. Each
	// global event fires at most once per run and survives state changes.
	globalTimers []*time.Timer
	globalFired  []bool

	// subscribed lists the trigger topics subscribed for this run.
	subscribed []string
}

// stateContext is the per-activation record, rebuilt wholesale on every
// state entry. Timers armed under an older activation are recognized by
// their stale sequence and dropped by the loop.
type stateContext struct {
	name      string
	state     *scene.State
	seq       uint64
	enteredAt time.Time

	// timeline is the state's schedule in firing order; timelineDue
	// events index into it.
	timeline []scene.TimelineEntry

	timers []*time.Timer
}

// cancelTimers stops every armed timer for this activation. In-flight
// fires that already slipped into the queue are dropped by the sequence
// check.
func (sc *stateContext) cancelTimers() {
	for _, t := range sc.timers {
		t.Stop()
	}
	sc.timers = nil
}

// cancelGlobals stops the run's remaining global event timers.
func (rc *runContext) cancelGlobals() {
	for _, t := range rc.globalTimers {
		if t != nil {
			t.Stop()
		}
	}
	rc.globalTimers = nil
}

// TransitionRecord is one observed state change, as handed to the run
// recorder, the transition callback, and the recent-history ring.
type TransitionRecord struct {
	RunID   string `json:"run_id"`
	SceneID string `json:"scene_id"`

	// Seq is the 1-based position within the run; the synthetic start
	// record is always 1.
	Seq int `json:"seq"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Kind is the trigger discriminator, or "start"/"stop" for the
	// synthetic run-edge records.
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`

	At          time.Time     `json:"at"`
	TimeInState time.Duration `json:"time_in_state"`
}
