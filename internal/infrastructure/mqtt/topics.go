package mqtt

import "fmt"

// TopicPrefixDevices is the base for controller and actuator presence topics.
// Presence is deliberately outside the room namespace so one dashboard can
// watch every device in the building with a single subscription.
const TopicPrefixDevices = "devices"

// Topics provides builders for the exhibit MQTT topic scheme.
// Using these helpers keeps topic naming consistent across the engine,
// the monitor, and the operator CLI.
//
// Room-scoped topics take the room prefix explicitly because it comes from
// the running scene's globalPrefix (falling back to site.room_prefix):
//
//	topics := mqtt.Topics{}
//	control := topics.SceneControl("room1")
//	// Returns: "room1/scene"
type Topics struct{}

// =============================================================================
// Presence Topics
// =============================================================================

// DeviceStatus returns the presence topic for a named device.
// The controller's own LWT and online payloads live here too.
//
// Example: devices/showrunner/status
func (Topics) DeviceStatus(deviceName string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevices, deviceName)
}

// AllDeviceStatuses returns a pattern matching every device's presence topic.
//
// Pattern: devices/+/status
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixDevices)
}

// =============================================================================
// Room Topics
// =============================================================================

// SceneControl returns the room's scene control topic. Payload is a scene id
// to start, or STOP.
//
// Example: room1/scene
func (Topics) SceneControl(prefix string) string {
	return fmt.Sprintf("%s/scene", prefix)
}

// SceneStatus returns the retained scene status topic for a room.
//
// Example: room1/scene/status
func (Topics) SceneStatus(prefix string) string {
	return fmt.Sprintf("%s/scene/status", prefix)
}

// SystemStatus returns the retained controller resource status topic.
//
// Example: room1/system/status
func (Topics) SystemStatus(prefix string) string {
	return fmt.Sprintf("%s/system/status", prefix)
}

// Button returns the topic a physical button publishes on.
//
// Example: room1/button/start
func (Topics) Button(prefix, buttonID string) string {
	return fmt.Sprintf("%s/button/%s", prefix, buttonID)
}

// AllButtons returns a pattern matching every button in a room.
//
// Pattern: room1/button/+
func (Topics) AllButtons(prefix string) string {
	return fmt.Sprintf("%s/button/+", prefix)
}

// Feedback returns the feedback topic paired with a command topic.
// Actuator firmware replies OK or ERROR here after executing a command.
//
// Example: room1/motor2/feedback
func (Topics) Feedback(commandTopic string) string {
	return fmt.Sprintf("%s/feedback", commandTopic)
}

// AllFeedback returns a pattern matching every actuator's feedback in a room.
//
// Pattern: room1/+/feedback
func (Topics) AllFeedback(prefix string) string {
	return fmt.Sprintf("%s/+/feedback", prefix)
}
