package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidUnit is returned when the value passed for dispatch is not a
	// function or the arguments do not fit it. No fallback is possible.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrRemoteExecution is returned by Offload, and triggers the local
	// fallback of Dispatch, when the capsule exits non-zero and
	// FallbackOnExitError is set.
	ErrRemoteExecution = errors.New("remote execution failed")

	// ErrEmptyCommand is returned by CommandRunner.Run for blank commands.
	ErrEmptyCommand = errors.New("empty command")

	// ErrNoPayload is returned when decoding an outcome that carries no
	// results.
	ErrNoPayload = errors.New("outcome has no payload")
)

// StageError records the state in which a remote attempt failed.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("offload %s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// stageOf returns the failing state of err, or StateStart if err carries
// none.
func stageOf(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.State
	}
	return StateStart
}
