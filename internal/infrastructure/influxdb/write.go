package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSceneTransition records a state change taken by the engine.
//
// One point per transition gives the dashboard a replayable timeline and
// makes dwell-time analysis (how long visitors hold a state) a simple
// query. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - sceneID: Scene being executed
//   - fromState, toState: The transition endpoints
//   - trigger: What fired it (timeout, mqtt, button, audioEnd, videoEnd, always)
//   - stateElapsed: Time spent in fromState before the transition
func (c *Client) WriteSceneTransition(sceneID, fromState, toState, trigger string, stateElapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"scene_transition",
		map[string]string{
			"site":    c.siteID,
			"scene":   sceneID,
			"trigger": trigger,
		},
		map[string]interface{}{
			"from_state":       fromState,
			"to_state":         toState,
			"state_elapsed_ms": stateElapsed.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEngineHeartbeat records a liveness sample from the running engine.
//
// Parameters:
//   - sceneID: Currently running scene ("" when idle)
//   - state: Current state within the scene ("" when idle)
//   - uptime: Process uptime
func (c *Client) WriteEngineHeartbeat(sceneID, state string, uptime time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"engine_heartbeat",
		map[string]string{
			"site": c.siteID,
		},
		map[string]interface{}{
			"scene":          sceneID,
			"state":          state,
			"uptime_seconds": uptime.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDispatchError records a failed action dispatch.
//
// Dispatch failures never stop a scene, but a device that drops every
// third command shows up here long before a visitor complains.
//
// Parameters:
//   - sceneID: Scene that was executing
//   - state: State whose action failed
//   - actionType: Discriminator of the failed action (mqtt, audio, video)
func (c *Client) WriteDispatchError(sceneID, state, actionType string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch_error",
		map[string]string{
			"site":        c.siteID,
			"scene":       sceneID,
			"action_type": actionType,
		},
		map[string]interface{}{
			"state": state,
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus records a presence change observed on devices/+/status.
//
// Parameters:
//   - deviceName: The device whose status changed
//   - online: New presence state
func (c *Client) WriteDeviceStatus(deviceName string, online bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"site":   c.siteID,
			"device": deviceName,
		},
		map[string]interface{}{
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSystemStats records a resource usage sample from the system monitor.
//
// Parameters:
//   - cpuPercent: Process CPU usage percentage
//   - memoryMB: Process resident memory in megabytes
func (c *Client) WriteSystemStats(cpuPercent, memoryMB float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"system_stats",
		map[string]string{
			"site": c.siteID,
		},
		map[string]interface{}{
			"cpu_percent": cpuPercent,
			"memory_mb":   memoryMB,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods. The site
// tag is added automatically.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	if tags == nil {
		tags = make(map[string]string, 1)
	}
	if _, ok := tags["site"]; !ok {
		tags["site"] = c.siteID
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
