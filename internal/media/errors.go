package media

import "errors"

var (
	// ErrBadCommand is returned when a media command string does not
	// match the grammar.
	ErrBadCommand = errors.New("media: bad command")

	// ErrNotReady is returned when the player process is down or its IPC
	// socket is not connected. Callers log and carry on; the show never
	// stops for a dead player.
	ErrNotReady = errors.New("media: player not ready")

	// ErrPathEscape is returned when a file name resolves outside the
	// configured media directory.
	ErrPathEscape = errors.New("media: file outside media directory")

	// ErrCommandFailed is returned when the player rejects a command.
	ErrCommandFailed = errors.New("media: command failed")
)
