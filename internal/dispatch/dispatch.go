// Package dispatch routes scene actions to their effectors: messaging
// publishes to device actuators and raw command strings to the media
// lanes. It owns the failure policy for effects (wrap, report, never
// halt) and nothing else; the executor decides what to dispatch and
// when.
package dispatch

import (
	"context"
	"fmt"

	"github.com/calliope-av/showrunner/internal/scene"
)

// commandQoS is the delivery level for actuator publishes. At-least-once
// matches the device firmware, which treats duplicate commands as
// idempotent sets.
const commandQoS = 1

// Publisher is the interface the dispatcher needs from the messaging
// client. Publishes are fire-and-forget; delivery errors surface through
// the client's completion watcher, not here.
type Publisher interface {
	PublishAsync(topic string, payload []byte, qos byte, retained bool) error
}

// Player is the interface the dispatcher needs from a media lane. The
// lane owns its command grammar; the dispatcher passes messages through
// untouched.
type Player interface {
	Apply(ctx context.Context, raw string) error
}

// Logger matches the subset of logging used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher executes scene actions against the configured effectors.
// It never mutates executor state and reports only through return
// values.
//
// Thread Safety: safe for concurrent use when the collaborators are.
type Dispatcher struct {
	publisher Publisher
	audio     Player
	video     Player
	logger    Logger
	onError   func(kind scene.ActionKind)
}

// NewDispatcher creates a dispatcher. Any collaborator may be nil; the
// matching action kinds then fail with ErrDispatch instead of executing.
func NewDispatcher(publisher Publisher, audio, video Player) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		audio:     audio,
		video:     video,
		logger:    noopLogger{},
	}
}

// SetLogger wires a logger. Safe to call before use; not synchronized.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetOnError registers a callback invoked once per failed action with
// the action kind. It must not block. Call before use; not synchronized.
func (d *Dispatcher) SetOnError(fn func(kind scene.ActionKind)) {
	d.onError = fn
}

// Dispatch executes a single action.
//
// Parameters:
//   - ctx: bounds media IPC round trips; publishes do not block on it
//   - a: the action, already prefix-resolved and validated at load time
//
// Returns:
//   - error: nil on success, otherwise an ErrDispatch-wrapped failure.
//     Callers log and continue; dispatch failures are never fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, a scene.Action) error {
	switch a.Kind {
	case scene.ActionMQTT:
		if d.publisher == nil {
			return fmt.Errorf("%w: no messaging client for topic %q", ErrDispatch, a.Topic)
		}
		if err := d.publisher.PublishAsync(a.Topic, []byte(a.Message), commandQoS, a.Retain); err != nil {
			return fmt.Errorf("%w: publishing to %q: %v", ErrDispatch, a.Topic, err)
		}
		d.logger.Debug("action published", "topic", a.Topic, "message", a.Message)
		return nil

	case scene.ActionAudio:
		return d.applyMedia(ctx, d.audio, a)

	case scene.ActionVideo:
		return d.applyMedia(ctx, d.video, a)

	default:
		// Unreachable for loaded scenes; validation rejects unknown kinds.
		return fmt.Errorf("%w: unknown action kind %q", ErrDispatch, a.Kind)
	}
}

// DispatchAll executes actions in declaration order, logging failures
// and carrying on. It returns the number of failed actions.
func (d *Dispatcher) DispatchAll(ctx context.Context, actions []scene.Action) int {
	failed := 0
	for _, a := range actions {
		if err := d.Dispatch(ctx, a); err != nil {
			d.logger.Warn("action dropped", "kind", a.Kind, "error", err)
			if d.onError != nil {
				d.onError(a.Kind)
			}
			failed++
		}
	}
	return failed
}

func (d *Dispatcher) applyMedia(ctx context.Context, p Player, a scene.Action) error {
	if p == nil {
		return fmt.Errorf("%w: %s lane not configured", ErrDispatch, a.Kind)
	}
	if err := p.Apply(ctx, a.Message); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrDispatch, a.Kind, a.Message, err)
	}
	d.logger.Debug("media command applied", "lane", a.Kind, "message", a.Message)
	return nil
}
