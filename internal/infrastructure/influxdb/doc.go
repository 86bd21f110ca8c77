// Package influxdb provides time-series telemetry for showrunner.
//
// It wraps the official influxdb-client-go v2 library with the patterns
// the rest of the codebase uses for connection management and health
// monitoring.
//
// # Purpose
//
// This package records the exhibit's operational history:
//   - Scene transitions (for the dashboard timeline and dwell analysis)
//   - Engine heartbeats and system resource samples
//   - Dispatch errors (flaky actuators surface here first)
//   - Device presence changes
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off; the engine runs fine without it
//	}
//
//	client.WriteSceneTransition("welcome", "intro", "mainLoop", "timeout", 12*time.Second)
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly. Telemetry must never gate scene execution: helpers silently
// no-op when disconnected.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). This keeps network overhead flat even when a busy
// scene transitions several times a second.
package influxdb
