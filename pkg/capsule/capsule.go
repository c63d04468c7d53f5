// Package capsule turns a top-level Go function into a standalone program
// that can be shipped to a worker and run with `go run`.
//
// A capsule is assembled from:
//
//   - the function's declaration, renamed to offloadUnit, with its body
//     wrapped in a function literal whose results are reported once it
//     returns, after deferred calls have run
//   - the imports of the bound entry file that the capsule actually uses
//   - the package-level declarations the function refers to (names bound
//     inside the function do not count), with
//     registered variables embedded as literal snapshots of their current
//     values
//   - helpers registered with Builder.Include or Builder.IncludeSource
//   - a reporter that prints Marker followed by the JSON-encoded results
//   - a main that calls offloadUnit with the call's arguments
//
// Capsules are built fresh for every call and never cached.
package capsule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Marker prefixes the single output line that carries a capsule's results.
const Marker = "offload.capsule.return "

// UnitName is the name the offloaded function takes inside a capsule.
const UnitName = "offloadUnit"

// Binding describes how a package-level variable was embedded.
type Binding string

const (
	// BindingSnapshot means the variable's current value was rendered as a
	// Go literal.
	BindingSnapshot Binding = "snapshot"

	// BindingSource means the variable's declaration was copied as written.
	BindingSource Binding = "source"
)

// Capsule is a generated, self-contained Go program.
type Capsule struct {
	// Unit is the qualified name of the offloaded function (pkg.Name).
	Unit string

	// Source is the gofmt-formatted program text.
	Source []byte

	// Arity is the number of results the function returns. Zero means the
	// capsule never prints a Marker line.
	Arity int

	// Imports lists the import paths kept in the program.
	Imports []string

	// Globals maps each embedded package-level variable to how it was bound.
	Globals map[string]Binding

	// Helpers is the number of always-included helper declarations.
	Helpers int
}

// Size returns the program size in bytes.
func (c *Capsule) Size() int {
	return len(c.Source)
}

// Reader returns a reader over the program text.
func (c *Capsule) Reader() io.Reader {
	return bytes.NewReader(c.Source)
}

// IsMarkerLine reports whether line carries a capsule payload.
func IsMarkerLine(line string) bool {
	return strings.HasPrefix(line, Marker)
}

// ParsePayload returns the payload of the last Marker line in lines.
// ok is false when no line carries the marker or the payload is not JSON.
func ParsePayload(lines []string) (payload json.RawMessage, ok bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if !IsMarkerLine(lines[i]) {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(lines[i], Marker))
		if !json.Valid([]byte(raw)) {
			return nil, false
		}
		return json.RawMessage(raw), true
	}
	return nil, false
}

// EncodePayload encodes results the way a capsule's reporter does: a single
// value bare, several values as an array, and error values as their message
// (null when nil). Local executions use it so both paths produce the same
// payload shape.
func EncodePayload(values []any) (json.RawMessage, error) {
	normalized := make([]any, len(values))
	for i, v := range values {
		if err, ok := v.(error); ok {
			normalized[i] = err.Error()
			continue
		}
		normalized[i] = v
	}

	var payload any = normalized
	if len(normalized) == 1 {
		payload = normalized[0]
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// reporterSource is prepended to every capsule. The aliased imports keep it
// independent from whatever the entry file imports.
const reporterSource = `
func offloadReport(values ...any) {
	for i, v := range values {
		if err, ok := v.(error); ok && err != nil {
			values[i] = err.Error()
		}
	}
	var payload any = values
	if len(values) == 1 {
		payload = values[0]
	}
	data, err := offloadjson.Marshal(payload)
	if err != nil {
		offloadfmt.Fprintln(offloados.Stderr, "offload: encode result:", err)
		offloados.Exit(3)
	}
	offloadfmt.Println(%q + string(data))
}
`

// decodeArgSource is added to capsules whose arguments arrive as JSON.
const decodeArgSource = `
func offloadDecodeArg(raw string, target any) {
	if err := offloadjson.Unmarshal([]byte(raw), target); err != nil {
		offloadfmt.Fprintln(offloados.Stderr, "offload: decode argument:", err)
		offloados.Exit(2)
	}
}
`

// reporterImports are the aliased imports the reporter relies on.
var reporterImports = []importSpec{
	{name: "offloadjson", path: "encoding/json"},
	{name: "offloadfmt", path: "fmt"},
	{name: "offloados", path: "os"},
}
