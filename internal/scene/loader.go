package scene

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultEndMarker is the state name recognized as terminal by convention.
// A state with no transitions is only legal under this name (or the
// configured override).
const DefaultEndMarker = "END"

// Loader parses and validates scene documents.
//
// Decoding is fail-open on metadata and fail-closed on behavior: unknown
// fields anywhere in the document are ignored for forward compatibility,
// but an unknown action or transition discriminator rejects the load:
// a document the engine cannot fully interpret must not half-run.
type Loader struct {
	// EndMarker is the terminal state name. Empty means DefaultEndMarker.
	EndMarker string
}

// NewLoader creates a loader. endMarker overrides the terminal state name;
// pass "" for the END convention.
func NewLoader(endMarker string) *Loader {
	if endMarker == "" {
		endMarker = DefaultEndMarker
	}
	return &Loader{EndMarker: endMarker}
}

// Parse decodes a scene document, resolves relative topics against the
// scene's global prefix, and validates the result.
//
// All-or-nothing: on any error no Scene is returned, so a partially
// constructed graph can never reach the engine. Identical documents
// always parse and validate identically.
//
// Parameters:
//   - data: Raw JSON scene document
//
// Returns:
//   - *Scene: The validated, immutable scene graph
//   - error: Wrapping ErrInvalidDocument, ErrInvalidScene,
//     ErrUnknownActionKind, ErrUnknownTransitionKind, ErrUnknownTarget,
//     or ErrDeadEndState
func (l *Loader) Parse(data []byte) (*Scene, error) {
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	s.normalize()

	if err := validateScene(&s, l.endMarker()); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and parses a scene document from disk.
func (l *Loader) LoadFile(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}

	s, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

func (l *Loader) endMarker() string {
	if l.EndMarker == "" {
		return DefaultEndMarker
	}
	return l.EndMarker
}

// Parse decodes and validates a scene document with the END convention.
func Parse(data []byte) (*Scene, error) {
	return NewLoader("").Parse(data)
}

// normalize fills derived fields after decoding: state names from their
// map keys, and prefix-resolved topics on every mqtt action and trigger.
// Resolution happens once at load time so the rest of the system only
// ever sees final topics.
func (s *Scene) normalize() {
	for name, st := range s.States {
		if st == nil {
			// JSON null state body; validation will reject it with context
			st = &State{}
			s.States[name] = st
		}
		st.Name = name

		resolveActionTopics(st.OnEnter, s.GlobalPrefix)
		resolveActionTopics(st.OnExit, s.GlobalPrefix)
		for i := range st.Timeline {
			resolveEntryTopics(&st.Timeline[i], s.GlobalPrefix)
		}
		for i := range st.Transitions {
			if st.Transitions[i].Kind == TransitionMQTT {
				st.Transitions[i].Topic = resolveTopic(st.Transitions[i].Topic, s.GlobalPrefix)
			}
		}
	}

	for i := range s.GlobalEvents {
		resolveEntryTopics(&s.GlobalEvents[i], s.GlobalPrefix)
	}
}

func resolveActionTopics(actions []Action, prefix string) {
	for i := range actions {
		if actions[i].Kind == ActionMQTT {
			actions[i].Topic = resolveTopic(actions[i].Topic, prefix)
		}
	}
}

func resolveEntryTopics(e *TimelineEntry, prefix string) {
	if e.Action != nil && e.Action.Kind == ActionMQTT {
		e.Action.Topic = resolveTopic(e.Action.Topic, prefix)
	}
	resolveActionTopics(e.Actions, prefix)
}
