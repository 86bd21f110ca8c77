// Package presence tracks actuator and companion-device liveness from
// retained status topics, and watches actuator feedback for command
// errors. It is observability only: nothing here ever drives a scene
// transition.
package presence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/calliope-av/showrunner/internal/infrastructure/mqtt"
)

const statusQoS = 1

// DeviceStatus is the tracked liveness of one device.
type DeviceStatus struct {
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	Payload  string    `json:"payload,omitempty"`
}

// Subscriber is the interface the tracker needs from the messaging
// client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger matches the subset of logging used by the tracker.
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

// Tracker watches device presence topics and actuator feedback.
//
// Thread Safety: all methods are safe for concurrent use; handlers run
// on the messaging client's callback goroutines.
type Tracker struct {
	sub    Subscriber
	logger Logger

	mu      sync.RWMutex
	devices map[string]*DeviceStatus

	onChange        func(DeviceStatus)
	onActuatorError func(topic, payload string)

	feedbackTopic string
}

// NewTracker creates a tracker bound to the given messaging client.
func NewTracker(sub Subscriber) *Tracker {
	return &Tracker{
		sub:     sub,
		logger:  noopLogger{},
		devices: make(map[string]*DeviceStatus),
	}
}

// SetLogger wires a logger. Call before Start.
func (t *Tracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetOnChange registers a callback fired on every presence flip
// (online to offline or back). Call before Start. The status surface and
// telemetry hang off this.
func (t *Tracker) SetOnChange(fn func(DeviceStatus)) {
	t.onChange = fn
}

// SetOnActuatorError registers a callback fired when an actuator answers
// a command with an ERROR feedback. Call before Start.
func (t *Tracker) SetOnActuatorError(fn func(topic, payload string)) {
	t.onActuatorError = fn
}

// Start subscribes the presence pattern and, when prefix is non-empty,
// the room's actuator feedback pattern.
func (t *Tracker) Start(prefix string) error {
	statusTopic := mqtt.Topics{}.AllDeviceStatuses()
	if err := t.sub.Subscribe(statusTopic, statusQoS, t.handleStatus); err != nil {
		return fmt.Errorf("subscribing %q: %w", statusTopic, err)
	}

	if prefix != "" {
		t.feedbackTopic = mqtt.Topics{}.AllFeedback(prefix)
		if err := t.sub.Subscribe(t.feedbackTopic, statusQoS, t.handleFeedback); err != nil {
			return fmt.Errorf("subscribing %q: %w", t.feedbackTopic, err)
		}
	}

	t.logger.Info("presence tracking started", "status_topic", statusTopic, "feedback_topic", t.feedbackTopic)
	return nil
}

// Stop drops the tracker's subscriptions. Tracked state is retained for
// late status reads during shutdown.
func (t *Tracker) Stop() error {
	var firstErr error
	if err := t.sub.Unsubscribe(mqtt.Topics{}.AllDeviceStatuses()); err != nil {
		firstErr = err
	}
	if t.feedbackTopic != "" {
		if err := t.sub.Unsubscribe(t.feedbackTopic); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleStatus ingests one devices/<name>/status publish. Payloads are
// either the controller's JSON envelope or a bare word from simpler
// firmware; both carry online/offline.
func (t *Tracker) handleStatus(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		t.logger.Debug("ignoring malformed status topic", "topic", topic)
		return nil
	}
	name := parts[1]

	raw := strings.TrimSpace(string(payload))
	status := raw
	var envelope struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Status != "" {
		status = envelope.Status
	}
	online := strings.EqualFold(status, "online")

	now := time.Now().UTC()

	t.mu.Lock()
	dev, known := t.devices[name]
	if !known {
		dev = &DeviceStatus{Name: name}
		t.devices[name] = dev
	}
	flipped := !known || dev.Online != online
	dev.Online = online
	dev.LastSeen = now
	dev.Payload = raw
	snapshot := *dev
	t.mu.Unlock()

	if !flipped {
		return nil
	}

	if online {
		t.logger.Info("device online", "device", name)
	} else {
		t.logger.Warn("device offline", "device", name, "payload", raw)
	}
	if t.onChange != nil {
		t.onChange(snapshot)
	}
	return nil
}

// handleFeedback ingests one <prefix>/<actuator>/feedback publish.
// Actuators answer OK or ERROR[:detail] after executing a command.
func (t *Tracker) handleFeedback(topic string, payload []byte) error {
	raw := strings.TrimSpace(string(payload))
	if raw == "" || strings.EqualFold(raw, "OK") {
		return nil
	}

	actuator := strings.TrimSuffix(topic, "/feedback")
	t.logger.Error("actuator reported command failure", "actuator", actuator, "payload", raw)
	if t.onActuatorError != nil {
		t.onActuatorError(actuator, raw)
	}
	return nil
}

// Get returns the tracked status of one device.
func (t *Tracker) Get(name string) (DeviceStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dev, ok := t.devices[name]
	if !ok {
		return DeviceStatus{}, false
	}
	return *dev, true
}

// Snapshot returns every tracked device, sorted by name.
func (t *Tracker) Snapshot() []DeviceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(t.devices))
	for _, dev := range t.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Counts returns how many devices are tracked and how many are online.
func (t *Tracker) Counts() (total, online int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total = len(t.devices)
	for _, dev := range t.devices {
		if dev.Online {
			online++
		}
	}
	return total, online
}
