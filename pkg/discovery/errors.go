package discovery

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDiscoveryExhausted indicates that no candidate address answered a probe.
// Check with errors.Is; the concrete error is *ExhaustedError.
var ErrDiscoveryExhausted = errors.New("worker discovery exhausted")

// ProbeFailure records why one candidate was rejected.
type ProbeFailure struct {
	Candidate string
	Err       error
}

// ExhaustedError is returned when every candidate for a base address failed.
type ExhaustedError struct {
	Base     string
	Attempts int
	Failures []ProbeFailure
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no reachable, authenticated worker among %d candidates for base %q",
		ErrDiscoveryExhausted, e.Attempts, e.Base)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s: %v", f.Candidate, f.Err)
	}
	return b.String()
}

// Is matches ErrDiscoveryExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrDiscoveryExhausted
}

// Unwrap exposes the per-candidate causes.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
