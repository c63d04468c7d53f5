package capsule

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedUnit is returned for values that cannot become a capsule:
	// anything that is not a top-level, non-generic function.
	ErrUnsupportedUnit = errors.New("unsupported unit")

	// ErrUnitNotFound is returned when the declaration of a unit cannot be
	// located in the entry file or its defining file.
	ErrUnitNotFound = errors.New("unit declaration not found")

	// ErrInvalidArguments is returned when the call arguments do not match
	// the unit's parameters.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrUnrenderable is returned when a value has no Go literal form
	// (functions, channels, foreign types with unexported fields, cycles).
	ErrUnrenderable = errors.New("value cannot be rendered as a literal")

	// ErrTooLarge is returned when a capsule exceeds the builder's size
	// limit, typically because a large global was snapshotted.
	ErrTooLarge = errors.New("capsule too large")
)

// BuildError describes a failed capsule build.
type BuildError struct {
	// Unit is the qualified name of the function being built.
	Unit string

	// Op is the build step that failed (locate, parse, args, format, ...).
	Op string

	Err error
}

func (e *BuildError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("capsule %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("capsule %s %s: %v", e.Op, e.Unit, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildError(unit, op string, err error) error {
	return &BuildError{Unit: unit, Op: op, Err: err}
}
