// Package runlog persists run history: one row per scene run plus every
// transition taken during it. The executor writes it off the hot path;
// the API reads it for the dashboard's run timeline.
package runlog

import (
	"context"
	"errors"
	"time"
)

// End reasons recorded when a run closes.
const (
	EndReasonCompleted   = "completed"   // reached the end marker
	EndReasonStopped     = "stopped"     // explicit stop or controller shutdown
	EndReasonInterrupted = "interrupted" // another scene started over it
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one scene execution from start to end marker (or interruption).
type Run struct {
	// RunID is the unique identifier assigned at start.
	RunID string `json:"run_id"`

	// SceneID names the scene definition that ran.
	SceneID string `json:"scene_id"`

	// StartedAt is when the run began (UTC).
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the run closed, nil while still running.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// EndReason is one of the EndReason constants, empty while running.
	EndReason string `json:"end_reason,omitempty"`

	// FinalState is the state the run was in when it closed.
	FinalState string `json:"final_state,omitempty"`

	// TransitionCount is how many transitions the run took.
	TransitionCount int `json:"transition_count"`
}

// Transition is one recorded state change within a run.
type Transition struct {
	RunID string `json:"run_id"`

	// Seq is the 1-based position of this transition within its run.
	Seq int `json:"seq"`

	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`

	// TriggerKind is the transition discriminator (timeout, mqtt, button,
	// audioEnd, videoEnd, always, or the synthetic kinds start and stop).
	TriggerKind string `json:"trigger_kind"`

	// TriggerDetail is a human-readable rendering of the trigger
	// parameters, e.g. "delay=45s" or "topic=room9/door message=OPEN".
	TriggerDetail string `json:"trigger_detail,omitempty"`

	// OccurredAt is when the transition fired (UTC).
	OccurredAt time.Time `json:"occurred_at"`

	// StateElapsedMS is how long the run sat in FromState.
	StateElapsedMS int64 `json:"state_elapsed_ms"`
}

// Stats summarizes the run history tables.
type Stats struct {
	TotalRuns        int   `json:"total_runs"`
	OpenRuns         int   `json:"open_runs"`
	TotalTransitions int64 `json:"total_transitions"`
}

// Repository stores and retrieves run history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// CreateRun opens a new run row.
	CreateRun(ctx context.Context, runID, sceneID string, startedAt time.Time) error

	// FinishRun closes a run with its reason and final state.
	// Returns ErrRunNotFound for unknown run ids.
	FinishRun(ctx context.Context, runID, endReason, finalState string, endedAt time.Time) error

	// RecordTransition appends one transition and bumps the run's count.
	RecordTransition(ctx context.Context, tr Transition) error

	// GetRun returns one run. Returns ErrRunNotFound for unknown ids.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns runs newest-first, optionally filtered by scene.
	// Limit is clamped; zero means the default page size.
	ListRuns(ctx context.Context, sceneID string, limit int) ([]Run, error)

	// ListTransitions returns a run's transitions in firing order.
	ListTransitions(ctx context.Context, runID string) ([]Transition, error)

	// Stats summarizes the history tables.
	Stats(ctx context.Context) (Stats, error)
}
