// Package monitor keeps the engine observable from outside the process:
// a heartbeat file the supervisor can stat, and a periodic system status
// publisher for the dashboard.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	heartbeatFileMode = 0600
	heartbeatDirMode  = 0700
)

// Heartbeat writes the liveness file the supervisor watches. The engine
// touches it on every transition and on a periodic tick; a stale mtime
// means a wedged loop regardless of what the body claims.
type Heartbeat struct {
	path string
	pid  int
}

// HeartbeatBody is the file's JSON payload.
type HeartbeatBody struct {
	PID       int    `json:"pid"`
	Timestamp string `json:"timestamp"`
	Scene     string `json:"scene,omitempty"`
	State     string `json:"state,omitempty"`
}

// NewHeartbeat prepares the heartbeat writer, creating the parent
// directory if needed.
func NewHeartbeat(path string) (*Heartbeat, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, heartbeatDirMode); err != nil {
			return nil, fmt.Errorf("creating heartbeat directory: %w", err)
		}
	}
	return &Heartbeat{path: path, pid: os.Getpid()}, nil
}

// Path returns the heartbeat file location.
func (h *Heartbeat) Path() string {
	return h.path
}

// Touch writes a fresh heartbeat naming the current scene and state. The
// body goes to a temp file first and renames into place so a reader never
// sees a torn write.
func (h *Heartbeat) Touch(sceneID, state string) error {
	body, err := json.Marshal(HeartbeatBody{
		PID:       h.pid,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Scene:     sceneID,
		State:     state,
	})
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, body, heartbeatFileMode); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("replacing heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat loads a heartbeat file and reports how stale it is.
//
// The age comes from the file mtime, not the body timestamp, so a clock
// jump inside the engine cannot fake freshness.
//
// Returns:
//   - HeartbeatBody: the decoded payload
//   - time.Duration: time since the file was last written
//   - error: the file is missing or not a heartbeat
func ReadHeartbeat(path string) (HeartbeatBody, time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return HeartbeatBody{}, 0, fmt.Errorf("reading heartbeat: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return HeartbeatBody{}, 0, fmt.Errorf("reading heartbeat: %w", err)
	}

	var body HeartbeatBody
	if err := json.Unmarshal(data, &body); err != nil {
		return HeartbeatBody{}, 0, fmt.Errorf("decoding heartbeat: %w", err)
	}
	return body, time.Since(info.ModTime()), nil
}
