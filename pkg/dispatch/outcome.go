package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Source tells where a call ran.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Outcome is the result of a dispatched call, in the same shape whether it
// ran on the worker or locally.
type Outcome struct {
	// CallID identifies the dispatch in logs and traces.
	CallID string

	Source Source

	// Host is the worker address for remote outcomes.
	Host string

	// ExitCode is the remote process status; UnknownExitCode (-1) when the
	// process was interrupted. Always 0 for local outcomes.
	ExitCode int

	// Payload holds the JSON-encoded results: a single value bare, several
	// values as an array. Nil means no results were produced.
	Payload json.RawMessage

	// Arity is the number of results the function declares.
	Arity int

	// local holds the native results of a local run.
	local []reflect.Value
}

// HasPayload reports whether the outcome carries results.
func (o *Outcome) HasPayload() bool {
	if o == nil || o.Arity == 0 {
		return false
	}
	return o.Payload != nil || o.local != nil
}

// Text returns the payload as text: JSON strings are unquoted, anything
// else is returned as raw JSON. Empty without a payload.
func (o *Outcome) Text() string {
	if o == nil || o.Payload == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(o.Payload, &s); err == nil {
		return s
	}
	return string(o.Payload)
}

// Decode stores the results into targets, one pointer per result. Remote
// error results arrive as their message and decode into a plain error.
func (o *Outcome) Decode(targets ...any) error {
	if !o.HasPayload() {
		return ErrNoPayload
	}
	if len(targets) != o.Arity {
		return fmt.Errorf("decode: %d results into %d targets", o.Arity, len(targets))
	}

	if o.local != nil {
		for i, target := range targets {
			if err := assign(target, o.local[i]); err != nil {
				return fmt.Errorf("decode result %d: %w", i, err)
			}
		}
		return nil
	}

	parts := []json.RawMessage{o.Payload}
	if o.Arity > 1 {
		parts = nil
		if err := json.Unmarshal(o.Payload, &parts); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if len(parts) != o.Arity {
			return fmt.Errorf("decode: payload has %d results, want %d", len(parts), o.Arity)
		}
	}

	for i, target := range targets {
		if err := decodeValue(parts[i], target); err != nil {
			return fmt.Errorf("decode result %d: %w", i, err)
		}
	}
	return nil
}

func assign(target any, v reflect.Value) error {
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Pointer || tv.IsNil() {
		return fmt.Errorf("target %T is not a non-nil pointer", target)
	}
	elem := tv.Elem()
	if !v.IsValid() {
		elem.SetZero()
		return nil
	}
	if !v.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("%s is not assignable to %s", v.Type(), elem.Type())
	}
	elem.Set(v)
	return nil
}

func decodeValue(raw json.RawMessage, target any) error {
	errTarget, ok := target.(*error)
	if !ok {
		return json.Unmarshal(raw, target)
	}

	var msg *string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	if msg == nil {
		*errTarget = nil
		return nil
	}
	*errTarget = errors.New(*msg)
	return nil
}
