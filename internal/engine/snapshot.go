package engine

import "time"

// Phase is the executor's coarse position in its cycle.
type Phase string

const (
	// PhaseIdle means no run is active; the engine awaits a start trigger.
	PhaseIdle Phase = "idle"

	// PhaseEntering covers onEnter dispatch for the state being entered.
	PhaseEntering Phase = "entering"

	// PhaseActive means a state is entered with its triggers armed.
	PhaseActive Phase = "active"

	// PhaseExiting covers onExit dispatch while leaving a state.
	PhaseExiting Phase = "exiting"
)

// ErrorInfo describes the most recent non-fatal failure, kept for the
// status surface. The show keeps running; this is for the dashboard.
type ErrorInfo struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the executor, safe to read from any
// goroutine. Published through an atomic pointer on every change.
type Snapshot struct {
	SceneID string `json:"scene_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	State   string `json:"state,omitempty"`
	Phase   Phase  `json:"phase"`

	// EnteredAt is when the current state was entered, zero when idle.
	EnteredAt time.Time `json:"entered_at"`

	// StartedAt is when the current run began, zero when idle.
	StartedAt time.Time `json:"started_at"`

	// Transitions counts recorded transitions for the current run,
	// including the synthetic start record.
	Transitions int `json:"transitions"`

	// Connected reports the messaging client's broker session.
	Connected bool `json:"connected"`

	LastError *ErrorInfo `json:"last_error,omitempty"`

	// Recent is the newest-last ring of recorded transitions.
	Recent []TransitionRecord `json:"recent,omitempty"`
}

// TimeInState returns how long the current state has been active, zero
// when idle.
func (s Snapshot) TimeInState() time.Duration {
	if s.EnteredAt.IsZero() {
		return 0
	}
	return time.Since(s.EnteredAt)
}

// SceneElapsed returns how long the current run has been going, zero when
// idle.
func (s Snapshot) SceneElapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
