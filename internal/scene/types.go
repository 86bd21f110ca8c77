package scene

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scene is one complete automated exhibit sequence: a timed state machine
// whose states fire actions at actuators and advance on triggers.
//
// A Scene and its subgraph are immutable once loaded. Hot-reload validates
// a new Scene and swaps it in atomically; a live Scene is never mutated.
type Scene struct {
	// SceneID uniquely names the scene within the deployment's store.
	SceneID string `json:"sceneId"`

	// Description is free text for operators and the dashboard.
	Description string `json:"description"`

	// Version is the document format version, carried as metadata.
	Version string `json:"version"`

	// GlobalPrefix namespaces relative topic names. A topic containing no
	// "/" is resolved to "<GlobalPrefix>/<topic>" at load time.
	GlobalPrefix string `json:"globalPrefix"`

	// InitialState names the state entered when the scene starts.
	InitialState string `json:"initialState"`

	// States maps state name to definition.
	States map[string]*State `json:"states"`

	// GlobalEvents is a scene-scoped schedule: entries fire at offsets
	// from scene start, survive state changes, and fire at most once per
	// run.
	GlobalEvents []TimelineEntry `json:"globalEvents,omitempty"`
}

// State is a named phase of a Scene.
type State struct {
	// Name is the state's key in Scene.States, filled during parsing.
	Name string `json:"-"`

	Description string `json:"description"`

	// OnEnter actions dispatch in declared order when the state is entered.
	OnEnter []Action `json:"onEnter,omitempty"`

	// OnExit actions dispatch in declared order when the state is left.
	OnExit []Action `json:"onExit,omitempty"`

	// Timeline entries fire at fixed offsets from state entry. Evaluated
	// in ascending at order; simultaneous entries fire in declaration
	// order.
	Timeline []TimelineEntry `json:"timeline,omitempty"`

	// Transitions are the ways out of this state. Declaration order is
	// priority when one event satisfies several.
	Transitions []Transition `json:"transitions,omitempty"`
}

// ActionKind discriminates the Action variants.
type ActionKind string

const (
	ActionMQTT  ActionKind = "mqtt"
	ActionAudio ActionKind = "audio"
	ActionVideo ActionKind = "video"
)

// Action is a single declarative effect: a messaging publish or a media
// command. Immutable once loaded.
type Action struct {
	// Kind discriminates the variant. Unknown kinds are rejected at load
	// time, never silently skipped.
	Kind ActionKind `json:"action"`

	// Topic is the publish target for mqtt actions, prefix-resolved at
	// load time.
	Topic string `json:"topic,omitempty"`

	// Message is the payload. For mqtt it is an opaque device command
	// string (the sub-grammar is owned by the target firmware); for
	// audio/video it is a command in the player's grammar
	// (PLAY:<file>:<volume>, STOP, ...).
	Message string `json:"message"`

	// Retain marks an mqtt publish as retained.
	Retain bool `json:"retain,omitempty"`
}

// TimelineEntry schedules an Action (or an ordered group) at a fixed
// offset from state entry (or scene start, for global events).
type TimelineEntry struct {
	// At is the offset in seconds. Must be finite and >= 0.
	At float64 `json:"at"`

	// Exactly one of Action / Actions is set.
	Action  *Action  `json:"action,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// ActionList returns the entry's actions in dispatch order, regardless of
// whether the document used the single or the group form.
func (e *TimelineEntry) ActionList() []Action {
	if e.Action != nil {
		return []Action{*e.Action}
	}
	return e.Actions
}

// Offset returns the entry's at value as a duration.
func (e *TimelineEntry) Offset() time.Duration {
	return time.Duration(e.At * float64(time.Second))
}

// TransitionKind discriminates the Transition variants.
type TransitionKind string

const (
	TransitionTimeout  TransitionKind = "timeout"
	TransitionMQTT     TransitionKind = "mqtt"
	TransitionButton   TransitionKind = "button"
	TransitionAudioEnd TransitionKind = "audioEnd"
	TransitionVideoEnd TransitionKind = "videoEnd"
	TransitionAlways   TransitionKind = "always"
)

// Transition is a rule for leaving a State.
type Transition struct {
	// Kind discriminates the variant. Unknown kinds are rejected at load
	// time.
	Kind TransitionKind `json:"type"`

	// Goto names the target state. Every kind carries one.
	Goto string `json:"goto"`

	// Delay is the timeout in seconds for timeout transitions.
	Delay float64 `json:"delay,omitempty"`

	// Topic is the trigger topic for mqtt transitions, prefix-resolved at
	// load time.
	Topic string `json:"topic,omitempty"`

	// Message is the payload an mqtt trigger must match. Empty matches
	// any payload.
	Message string `json:"message,omitempty"`

	// Button is the identifier a button press must match.
	Button string `json:"button,omitempty"`

	// File is the media file an audioEnd/videoEnd trigger must match.
	// Empty matches any file.
	File string `json:"file,omitempty"`
}

// DelayDuration returns the timeout delay as a duration.
func (t *Transition) DelayDuration() time.Duration {
	return time.Duration(t.Delay * float64(time.Second))
}

// Detail renders the trigger condition for logs and the run history.
func (t *Transition) Detail() string {
	switch t.Kind {
	case TransitionTimeout:
		return fmt.Sprintf("delay=%gs", t.Delay)
	case TransitionMQTT:
		if t.Message == "" {
			return "topic=" + t.Topic
		}
		return fmt.Sprintf("topic=%s message=%s", t.Topic, t.Message)
	case TransitionButton:
		return "button=" + t.Button
	case TransitionAudioEnd, TransitionVideoEnd:
		if t.File == "" {
			return "file=any"
		}
		return "file=" + t.File
	case TransitionAlways:
		return "always"
	default:
		return string(t.Kind)
	}
}

// State returns the named state, or false if it is not declared.
func (s *Scene) State(name string) (*State, bool) {
	st, ok := s.States[name]
	return st, ok
}

// StateNames returns the declared state names in sorted order. Sorted
// iteration keeps validation and logging deterministic across loads of
// the same document.
func (s *Scene) StateNames() []string {
	names := make([]string, 0, len(s.States))
	for name := range s.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TriggerTopics returns the distinct resolved topics of all mqtt
// transitions in the scene, sorted. The engine subscribes these at run
// start.
func (s *Scene) TriggerTopics() []string {
	seen := make(map[string]struct{})
	for _, st := range s.States {
		for _, tr := range st.Transitions {
			if tr.Kind == TransitionMQTT && tr.Topic != "" {
				seen[tr.Topic] = struct{}{}
			}
		}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// TimelineSorted returns the state's timeline in firing order: ascending
// at, declaration order on ties.
func (st *State) TimelineSorted() []TimelineEntry {
	entries := make([]TimelineEntry, len(st.Timeline))
	copy(entries, st.Timeline)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At < entries[j].At
	})
	return entries
}

// DeepCopy creates a complete independent copy of the Scene.
// All map and slice fields are cloned so modifications to the copy do not
// affect the original. This is what lets the registry cache hand out
// scenes without aliasing its cache.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}

	cpy := *s // Shallow copy of value fields

	if s.States != nil {
		cpy.States = make(map[string]*State, len(s.States))
		for name, st := range s.States {
			cpy.States[name] = st.deepCopy()
		}
	}
	cpy.GlobalEvents = copyTimeline(s.GlobalEvents)

	return &cpy
}

func (st *State) deepCopy() *State {
	if st == nil {
		return nil
	}

	cpy := *st
	cpy.OnEnter = copyActions(st.OnEnter)
	cpy.OnExit = copyActions(st.OnExit)
	cpy.Timeline = copyTimeline(st.Timeline)
	if st.Transitions != nil {
		cpy.Transitions = make([]Transition, len(st.Transitions))
		copy(cpy.Transitions, st.Transitions)
	}
	return &cpy
}

func copyActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	cpy := make([]Action, len(actions))
	copy(cpy, actions)
	return cpy
}

func copyTimeline(entries []TimelineEntry) []TimelineEntry {
	if entries == nil {
		return nil
	}
	cpy := make([]TimelineEntry, len(entries))
	for i, e := range entries {
		cpy[i] = e
		if e.Action != nil {
			a := *e.Action
			cpy[i].Action = &a
		}
		cpy[i].Actions = copyActions(e.Actions)
	}
	return cpy
}

// resolveTopic applies the scene's global prefix to a relative topic.
// A topic containing "/" is already absolute; an empty topic stays empty
// so validation can reject it with context.
func resolveTopic(topic, prefix string) string {
	if topic == "" || prefix == "" {
		return topic
	}
	if strings.Contains(topic, "/") {
		return topic
	}
	return prefix + "/" + topic
}
