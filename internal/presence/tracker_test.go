package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/calliope-av/showrunner/internal/infrastructure/mqtt"
)

type mockSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	err          error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockSubscriber) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

// deliver invokes the registered handler for topic as the client would.
func (m *mockSubscriber) deliver(t *testing.T, pattern, topic, payload string) {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[pattern]
	m.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler registered for %q", pattern)
	}
	if err := handler(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%q): %v", topic, err)
	}
}

const statusPattern = "devices/+/status"

func TestTracker_OnlineOffline(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)
	if err := tr.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.deliver(t, statusPattern, "devices/candles/status", `{"status":"online","client_id":"candles"}`)

	dev, ok := tr.Get("candles")
	if !ok {
		t.Fatal("device not tracked")
	}
	if !dev.Online {
		t.Error("device offline, want online")
	}
	if dev.LastSeen.IsZero() {
		t.Error("LastSeen not set")
	}

	sub.deliver(t, statusPattern, "devices/candles/status", `{"status":"offline","reason":"unexpected_disconnect"}`)

	dev, _ = tr.Get("candles")
	if dev.Online {
		t.Error("device online after offline status")
	}
}

func TestTracker_PlainPayloads(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)
	if err := tr.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.deliver(t, statusPattern, "devices/fogger/status", "online")
	if dev, _ := tr.Get("fogger"); !dev.Online {
		t.Error("plain online payload not recognized")
	}

	sub.deliver(t, statusPattern, "devices/fogger/status", "OFFLINE")
	if dev, _ := tr.Get("fogger"); dev.Online {
		t.Error("plain offline payload not recognized")
	}
}

func TestTracker_ChangeCallbackOnEdgesOnly(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)

	var (
		mu    sync.Mutex
		flips []DeviceStatus
	)
	tr.SetOnChange(func(dev DeviceStatus) {
		mu.Lock()
		flips = append(flips, dev)
		mu.Unlock()
	})
	if err := tr.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.deliver(t, statusPattern, "devices/door/status", "online")
	sub.deliver(t, statusPattern, "devices/door/status", "online") // refresh, no edge
	sub.deliver(t, statusPattern, "devices/door/status", "offline")

	mu.Lock()
	defer mu.Unlock()
	if len(flips) != 2 {
		t.Fatalf("got %d flips, want 2: %+v", len(flips), flips)
	}
	if !flips[0].Online || flips[1].Online {
		t.Errorf("flip order wrong: %+v", flips)
	}
}

func TestTracker_MalformedTopicIgnored(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)
	if err := tr.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.deliver(t, statusPattern, "devices/status", "online")
	if total, _ := tr.Counts(); total != 0 {
		t.Errorf("tracked %d devices from malformed topic, want 0", total)
	}
}

func TestTracker_SnapshotSorted(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)
	if err := tr.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.deliver(t, statusPattern, "devices/zebra/status", "online")
	sub.deliver(t, statusPattern, "devices/alpha/status", "offline")
	sub.deliver(t, statusPattern, "devices/middle/status", "online")

	snap := tr.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size %d, want 3", len(snap))
	}
	for i, want := range []string{"alpha", "middle", "zebra"} {
		if snap[i].Name != want {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Name, want)
		}
	}

	total, online := tr.Counts()
	if total != 3 || online != 2 {
		t.Errorf("Counts() = (%d, %d), want (3, 2)", total, online)
	}
}

func TestTracker_Feedback(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)

	var (
		mu      sync.Mutex
		reports []string
	)
	tr.SetOnActuatorError(func(actuator, payload string) {
		mu.Lock()
		reports = append(reports, actuator+": "+payload)
		mu.Unlock()
	})
	if err := tr.Start("room9"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pattern := "room9/+/feedback"
	sub.deliver(t, pattern, "room9/motor2/feedback", "OK")
	sub.deliver(t, pattern, "room9/motor2/feedback", "ERROR:stalled")
	sub.deliver(t, pattern, "room9/candles/feedback", "ok")

	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 1 || reports[0] != "room9/motor2: ERROR:stalled" {
		t.Errorf("actuator errors = %v, want one stalled motor", reports)
	}
}

func TestTracker_StartSubscribeFailure(t *testing.T) {
	sub := newMockSubscriber()
	sub.err = errors.New("not connected")
	tr := NewTracker(sub)

	if err := tr.Start(""); err == nil {
		t.Fatal("expected subscribe failure")
	}
}

func TestTracker_StopUnsubscribes(t *testing.T) {
	sub := newMockSubscriber()
	tr := NewTracker(sub)
	if err := tr.Start("room9"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.unsubscribed) != 2 {
		t.Errorf("unsubscribed = %v, want both patterns", sub.unsubscribed)
	}
}
