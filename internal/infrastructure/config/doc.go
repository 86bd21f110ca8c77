// Package config handles loading and validating showrunner configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// One file configures all three binaries: the engine daemon reads every
// section, showwatch reads site/logging/watchdog, and showctl reads the
// API address and token.
//
// Security Considerations:
//   - Sensitive values (broker passwords, API tokens) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//   - The API token gates the verbs that drive physical hardware
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.RoomPrefix)
package config
