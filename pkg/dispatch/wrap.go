package dispatch

import (
	"context"

	"github.com/marmos91/offload/internal/logger"
)

// The wrappers below return a function with the signature of fn that
// dispatches every call through d. Remote results are decoded into the
// native result type. When no usable result comes back (the capsule exited
// non-zero, printed nothing, or its payload does not decode) fn runs
// locally instead, since a typed signature cannot express "no result".

// Func0 wraps a function with no arguments and one result.
func Func0[R any](d *Dispatcher, fn func() R) func() R {
	return func() R {
		if r, ok := result[R](d.Dispatch(context.Background(), fn)); ok {
			return r
		}
		return fn()
	}
}

// Func1 wraps a function with one argument and one result.
func Func1[A, R any](d *Dispatcher, fn func(A) R) func(A) R {
	return func(a A) R {
		if r, ok := result[R](d.Dispatch(context.Background(), fn, a)); ok {
			return r
		}
		return fn(a)
	}
}

// Func2 wraps a function with two arguments and one result.
func Func2[A, B, R any](d *Dispatcher, fn func(A, B) R) func(A, B) R {
	return func(a A, b B) R {
		if r, ok := result[R](d.Dispatch(context.Background(), fn, a, b)); ok {
			return r
		}
		return fn(a, b)
	}
}

// Func3 wraps a function with three arguments and one result.
func Func3[A, B, C, R any](d *Dispatcher, fn func(A, B, C) R) func(A, B, C) R {
	return func(a A, b B, c C) R {
		if r, ok := result[R](d.Dispatch(context.Background(), fn, a, b, c)); ok {
			return r
		}
		return fn(a, b, c)
	}
}

// Proc0 wraps a function with no arguments and no results.
func Proc0(d *Dispatcher, fn func()) func() {
	return func() {
		if _, err := d.Dispatch(context.Background(), fn); err != nil {
			fn()
		}
	}
}

// Proc1 wraps a function with one argument and no results.
func Proc1[A any](d *Dispatcher, fn func(A)) func(A) {
	return func(a A) {
		if _, err := d.Dispatch(context.Background(), fn, a); err != nil {
			fn(a)
		}
	}
}

// result decodes the single result of a dispatch.
func result[R any](out *Outcome, err error) (R, bool) {
	var r R
	if err != nil {
		logger.Warn("Dispatch failed; running locally", logger.Err(err))
		return r, false
	}
	if !out.HasPayload() {
		logger.Warn("Call returned no result; running locally",
			logger.KeyCallID, out.CallID, logger.KeyExitCode, out.ExitCode)
		return r, false
	}
	if err := out.Decode(&r); err != nil {
		logger.Warn("Result does not decode; running locally",
			logger.KeyCallID, out.CallID, logger.Err(err))
		return r, false
	}
	return r, true
}
