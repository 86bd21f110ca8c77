// Package api implements the HTTP status and control surface and the
// WebSocket event stream.
//
// This package provides:
//   - Read endpoints for engine status, scene documents, device presence,
//     and run history
//   - Control verbs to start and stop runs and to simulate button presses
//   - WebSocket hub broadcasting status, transition, and device events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits beside the scene engine, never inside it: every
// endpoint reads a snapshot or store, and the control verbs go through
// the same engine commands the MQTT control topic uses. A dashboard and
// the MQTT bus can therefore never disagree about what a verb does.
//
// # Security
//
// Read endpoints are open on the assumption of a closed exhibit network.
// Control verbs require the static bearer token from config; with no
// token configured the control surface is disabled rather than open.
// WebSocket connections authenticate with a short-lived single-use
// ticket minted from that token, because a browser cannot attach an
// Authorization header to an upgrade request.
//
// # Graceful Degradation
//
// The server operates without a presence tracker (device surface reports
// empty) and keeps serving reads while the engine is between runs.
package api
