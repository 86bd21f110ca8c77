package influxdb_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calliope-av/showrunner/internal/infrastructure/config"
	"github.com/calliope-av/showrunner/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "showrunner-dev-token",
		Org:           "calliope",
		Bucket:        "exhibits",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	cfg := testConfig()
	client, err := influxdb.Connect(cfg, "test-site")
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	client.Close()
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig(), "test-site")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg, "test-site")
	if err == nil {
		t.Fatal("Connect() should return error when disabled")
	}
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := influxdb.Connect(cfg, "test-site")
	if err == nil {
		t.Fatal("Connect() should return error for unreachable server")
	}
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteSceneTransition(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig(), "test-site")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var writeErrs []error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErrs = append(writeErrs, err)
		mu.Unlock()
	})

	client.WriteSceneTransition("welcome", "intro", "mainLoop", "timeout", 12*time.Second)
	client.WriteEngineHeartbeat("welcome", "mainLoop", 90*time.Second)
	client.WriteDispatchError("welcome", "mainLoop", "mqtt")
	client.WriteDeviceStatus("projector-1", true)
	client.WriteSystemStats(12.5, 84.2)
	client.Flush()

	// Give async error delivery a moment
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(writeErrs) > 0 {
		t.Errorf("write errors: %v", writeErrs)
	}
}

func TestWriteWhenClosed_NoOp(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig(), "test-site")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	// Writes after close must not panic or block
	client.WriteSceneTransition("welcome", "a", "b", "timeout", time.Second)
	client.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	client.Flush()
}
