// Package mqtt provides MQTT client connectivity for showrunner.
//
// This package manages:
//   - Connection to the exhibit broker with auto-reconnect and an optional
//     fallback broker address
//   - Message publishing, both acknowledged and fire-and-forget
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the only path between the scene engine and the physical room:
// actuator firmware (relays, motors, LED controllers) subscribes to command
// topics, buttons and sensors publish events, and the dashboard watches
// status topics.
//
//	showrunner ↔ MQTT Broker ↔ actuator firmware / buttons / dashboard
//
// # Failure model
//
// While disconnected, publishes return ErrNotConnected and are dropped by
// callers with a log line, never queued. A museum actuator acting on a
// minutes-old replayed command is worse than one that missed a cue. The
// client reconnects on its own with exponential backoff bounded by the
// configured ceiling, walking the primary and fallback broker addresses.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.DeviceName)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Watch every actuator's presence
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStatuses(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Fire a device command
//	client.PublishAsync("room1/light", []byte("ON"), 1, false)
package mqtt
