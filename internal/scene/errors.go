package scene

import "errors"

// Domain errors for scene loading and validation.
//
// Validation failures are load-fatal only: a scene that fails to load
// never reaches the engine, and a previously loaded version keeps
// running. Check with errors.Is():
//
//	if errors.Is(err, scene.ErrDeadEndState) {
//	    // author forgot the way out of a state
//	}
var (
	// ErrInvalidDocument is returned when the document is not parseable
	// JSON at all.
	ErrInvalidDocument = errors.New("scene: invalid document")

	// ErrInvalidScene is returned when a structural validation rule fails.
	ErrInvalidScene = errors.New("scene: invalid")

	// ErrUnknownActionKind is returned for an unrecognized action
	// discriminator. Fail-closed: an action we cannot interpret is never
	// skipped silently.
	ErrUnknownActionKind = errors.New("scene: unknown action kind")

	// ErrUnknownTransitionKind is returned for an unrecognized transition
	// discriminator.
	ErrUnknownTransitionKind = errors.New("scene: unknown transition kind")

	// ErrUnknownTarget is returned when initialState or a goto references
	// a state that is not declared.
	ErrUnknownTarget = errors.New("scene: unknown target state")

	// ErrDeadEndState is returned when a state has no transitions and is
	// not the designated end marker.
	ErrDeadEndState = errors.New("scene: dead-end state")

	// ErrSceneNotFound is returned when a scene ID does not exist in the
	// store or cache.
	ErrSceneNotFound = errors.New("scene: not found")
)
