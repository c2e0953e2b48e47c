package handoff

import "errors"

var (
	// ErrProtocolViolation is returned when either side calls the slot out of turn.
	ErrProtocolViolation = errors.New("handoff protocol violation")

	// ErrAborted is returned to a worker whose controller abandoned the exchange.
	ErrAborted = errors.New("handoff aborted by controller")

	// ErrTerminated is returned to a controller answering a worker that no longer waits.
	ErrTerminated = errors.New("handoff worker terminated")
)
