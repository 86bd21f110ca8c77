package dispatch

import "errors"

var (
	// ErrDispatch wraps every action execution failure. The engine logs
	// these and keeps the show running; a missing actuator never stalls
	// the visitor experience.
	ErrDispatch = errors.New("action dispatch failed")
)
