package transport

import (
	"errors"
	"fmt"
)

// Standard transport errors. Callers check them with errors.Is.
var (
	// ErrUnreachable indicates the worker could not be contacted
	// (DNS failure, connection refused, timeout).
	ErrUnreachable = errors.New("worker unreachable")

	// ErrAuthenticationFailed indicates the worker rejected the credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidCredentials indicates the credential set is incomplete.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrClosed indicates the session was already closed.
	ErrClosed = errors.New("session closed")
)

// Error records a failed transport operation against an address.
type Error struct {
	Op   string // dial, auth, run, upload, remove
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a transport Error. A nil err returns nil.
func NewError(op, addr string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Addr: addr, Err: err}
}
