// Package logging provides structured logging for showrunner.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the engine, the watchdog,
// and the operator CLI.
//
// # Features
//
//   - JSON output for production (machine-parsable, dashboard-friendly)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-only log file for headless installations
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "logs/showrunner.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "showrunner", "1.0.0")
//	logger.Info("starting engine", "scene", sceneID)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log broker credentials, API tokens, or ticket secrets.
package logging
