package engine

import "errors"

var (
	// ErrNoActiveRun is returned by Stop when nothing is running.
	ErrNoActiveRun = errors.New("no active run")

	// ErrNotRunning is returned by commands sent before Run starts or
	// after it returns.
	ErrNotRunning = errors.New("engine loop not running")
)
