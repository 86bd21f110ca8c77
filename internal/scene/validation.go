package scene

import (
	"fmt"
	"math"
	"strings"
)

// validateScene enforces every load-time rule before any action can
// execute. Returns the first violation found; states are walked in sorted
// name order so identical documents fail identically.
func validateScene(s *Scene, endMarker string) error {
	if strings.TrimSpace(s.SceneID) == "" {
		return fmt.Errorf("%w: sceneId is required", ErrInvalidScene)
	}
	if s.InitialState == "" {
		return fmt.Errorf("%w: initialState is required", ErrInvalidScene)
	}
	if len(s.States) == 0 {
		return fmt.Errorf("%w: no states declared", ErrInvalidScene)
	}
	if _, ok := s.States[s.InitialState]; !ok {
		return fmt.Errorf("initialState: %w: %q", ErrUnknownTarget, s.InitialState)
	}

	for i, entry := range s.GlobalEvents {
		if err := validateTimelineEntry(fmt.Sprintf("globalEvents[%d]", i), entry); err != nil {
			return err
		}
	}

	for _, name := range s.StateNames() {
		if err := validateState(s, s.States[name], endMarker); err != nil {
			return err
		}
	}

	return nil
}

func validateState(s *Scene, st *State, endMarker string) error {
	for i, a := range st.OnEnter {
		if err := validateAction(fmt.Sprintf("state %q: onEnter[%d]", st.Name, i), a); err != nil {
			return err
		}
	}
	for i, a := range st.OnExit {
		if err := validateAction(fmt.Sprintf("state %q: onExit[%d]", st.Name, i), a); err != nil {
			return err
		}
	}
	for i, entry := range st.Timeline {
		if err := validateTimelineEntry(fmt.Sprintf("state %q: timeline[%d]", st.Name, i), entry); err != nil {
			return err
		}
	}

	// A state with no way out is a design defect unless it is the
	// designated end marker. Cycles are legal (steady-state loops);
	// dead ends are not.
	if len(st.Transitions) == 0 && st.Name != endMarker {
		return fmt.Errorf("%w: state %q has no transitions and is not %q", ErrDeadEndState, st.Name, endMarker)
	}

	for i, tr := range st.Transitions {
		if err := validateTransition(s, st.Name, i, tr); err != nil {
			return err
		}
	}

	return nil
}

func validateAction(loc string, a Action) error {
	switch a.Kind {
	case ActionMQTT:
		if a.Topic == "" {
			return fmt.Errorf("%s: %w: empty topic after prefix resolution", loc, ErrInvalidScene)
		}
	case ActionAudio, ActionVideo:
		if a.Message == "" {
			return fmt.Errorf("%s: %w: empty media command", loc, ErrInvalidScene)
		}
	default:
		return fmt.Errorf("%s: %w: %q", loc, ErrUnknownActionKind, a.Kind)
	}
	return nil
}

func validateTimelineEntry(loc string, e TimelineEntry) error {
	if !isFiniteNonNegative(e.At) {
		return fmt.Errorf("%s: %w: at must be finite and >= 0, got %v", loc, ErrInvalidScene, e.At)
	}

	single := e.Action != nil
	group := len(e.Actions) > 0
	switch {
	case single && group:
		return fmt.Errorf("%s: %w: carries both action and actions", loc, ErrInvalidScene)
	case !single && !group:
		return fmt.Errorf("%s: %w: carries no action", loc, ErrInvalidScene)
	}

	if single {
		return validateAction(loc+": action", *e.Action)
	}
	for i, a := range e.Actions {
		if err := validateAction(fmt.Sprintf("%s: actions[%d]", loc, i), a); err != nil {
			return err
		}
	}
	return nil
}

func validateTransition(s *Scene, stateName string, idx int, tr Transition) error {
	loc := fmt.Sprintf("state %q: transitions[%d]", stateName, idx)

	switch tr.Kind {
	case TransitionTimeout:
		if !isFiniteNonNegative(tr.Delay) {
			return fmt.Errorf("%s: %w: delay must be finite and >= 0, got %v", loc, ErrInvalidScene, tr.Delay)
		}
	case TransitionMQTT:
		if tr.Topic == "" {
			return fmt.Errorf("%s: %w: empty topic after prefix resolution", loc, ErrInvalidScene)
		}
	case TransitionButton:
		if tr.Button == "" {
			return fmt.Errorf("%s: %w: button identifier is required", loc, ErrInvalidScene)
		}
	case TransitionAudioEnd, TransitionVideoEnd, TransitionAlways:
		// No extra fields to check: File is optional (empty = any), and
		// always carries only a goto.
	default:
		return fmt.Errorf("%s: %w: %q", loc, ErrUnknownTransitionKind, tr.Kind)
	}

	if tr.Goto == "" {
		return fmt.Errorf("%s: %w: goto is required", loc, ErrInvalidScene)
	}
	if _, ok := s.States[tr.Goto]; !ok {
		return fmt.Errorf("%s: %w: %q", loc, ErrUnknownTarget, tr.Goto)
	}

	return nil
}

// isFiniteNonNegative reports whether v is a usable schedule offset.
// JSON itself cannot encode NaN or Inf, but offsets also arrive through
// the API and tests construct scenes directly.
func isFiniteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
