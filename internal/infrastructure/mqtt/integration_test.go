//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/calliope-av/showrunner/internal/infrastructure/config"
)

// Integration tests require a running MQTT broker on localhost:1883.
//
// Run with: go test -tags=integration ./internal/infrastructure/mqtt/
//
// Start a broker with: mosquitto -p 1883

func integrationConfig(t *testing.T) config.MQTTConfig {
	t.Helper()
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("showrunner-it-%d", time.Now().UnixNano()),
		},
		QoS:       1,
		KeepAlive: 30,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	client, err := Connect(integrationConfig(t), "it-device")
	if err != nil {
		t.Fatalf("Connect() failed (is mosquitto running?): %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after successful connect")
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}
}

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	cfg := integrationConfig(t)
	client, err := Connect(cfg, "it-device")
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer client.Close()

	topic := fmt.Sprintf("showrunner-test/%s/roundtrip", cfg.Broker.ClientID)
	received := make(chan []byte, 1)

	err = client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	want := []byte("PLAY:welcome.mp3")
	if err := client.Publish(topic, want, 1, false); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(want) {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for roundtrip message")
	}
}

func TestIntegration_WildcardSubscription(t *testing.T) {
	cfg := integrationConfig(t)
	client, err := Connect(cfg, "it-device")
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer client.Close()

	prefix := fmt.Sprintf("showrunner-test/%s", cfg.Broker.ClientID)

	var mu sync.Mutex
	topics := make(map[string]string)
	received := make(chan struct{}, 2)

	err = client.Subscribe(Topics{}.AllButtons(prefix), 1, func(topic string, payload []byte) error {
		mu.Lock()
		topics[topic] = string(payload)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	client.Publish(Topics{}.Button(prefix, "start"), []byte("press"), 1, false)
	client.Publish(Topics{}.Button(prefix, "skip"), []byte("press"), 1, false)

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for wildcard message %d", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(topics) != 2 {
		t.Errorf("received on %d topics, want 2: %v", len(topics), topics)
	}
}

func TestIntegration_RetainedStatusVisible(t *testing.T) {
	cfg := integrationConfig(t)
	publisher, err := Connect(cfg, "it-retained-device")
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer publisher.Close()

	// The online status publish in handleConnect is asynchronous; give the
	// broker a moment to store it.
	time.Sleep(500 * time.Millisecond)

	watcherCfg := integrationConfig(t)
	watcher, err := Connect(watcherCfg, "it-watcher")
	if err != nil {
		t.Fatalf("Connect() watcher failed: %v", err)
	}
	defer watcher.Close()

	received := make(chan []byte, 1)
	err = watcher.Subscribe(Topics{}.DeviceStatus("it-retained-device"), 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	select {
	case payload := <-received:
		if len(payload) == 0 {
			t.Error("retained status payload is empty")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retained online status")
	}
}

func TestIntegration_UnsubscribeStopsDelivery(t *testing.T) {
	cfg := integrationConfig(t)
	client, err := Connect(cfg, "it-device")
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer client.Close()

	topic := fmt.Sprintf("showrunner-test/%s/unsub", cfg.Broker.ClientID)
	received := make(chan struct{}, 4)

	if err := client.Subscribe(topic, 1, func(_ string, _ []byte) error {
		received <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() failed: %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}

	if err := client.Publish(topic, []byte("x"), 1, false); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	select {
	case <-received:
		t.Error("message delivered after Unsubscribe")
	case <-time.After(1 * time.Second):
		// expected: nothing arrives
	}
}
