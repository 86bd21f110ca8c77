// Showctl - operator CLI for the showrunner daemon
//
// Showctl validates and imports scene documents, drives the engine
// (start, stop, button presses), inspects status, and publishes raw
// test messages to the broker. Control verbs talk to the daemon's HTTP
// API; publish goes straight to MQTT.
package main

import (
	"os"

	"github.com/calliope-av/showrunner/cmd/showctl/commands"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
