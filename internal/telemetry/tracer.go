package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for offload operations.
const (
	// ========================================================================
	// Worker attributes
	// ========================================================================
	AttrHost      = "worker.host"      // Resolved worker address
	AttrBase      = "worker.base"      // Discovery base address
	AttrCandidate = "worker.candidate" // Address being probed
	AttrAttempt   = "worker.attempt"   // Probe index within the scan
	AttrUsername  = "user.name"
	AttrAuth      = "auth.method"

	// ========================================================================
	// Dispatch attributes
	// ========================================================================
	AttrUnit     = "offload.unit"      // Qualified name of the offloaded function
	AttrCallID   = "offload.call_id"   // Per-dispatch identifier
	AttrStage    = "offload.stage"     // Dispatch state or failing stage
	AttrSource   = "offload.source"    // remote or local
	AttrExitCode = "offload.exit_code" // Remote process exit status
	AttrPath     = "offload.path"      // Remote capsule path

	// ========================================================================
	// Capsule attributes
	// ========================================================================
	AttrCapsuleBytes   = "capsule.bytes"
	AttrCapsuleImports = "capsule.imports"
	AttrCapsuleGlobals = "capsule.globals"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanDispatch = "offload.dispatch"
	SpanDiscover = "offload.discover"
	SpanProbe    = "offload.probe"
	SpanBuild    = "offload.build"
	SpanUpload   = "offload.upload"
	SpanExec     = "offload.exec"
	SpanCleanup  = "offload.cleanup"
	SpanLocal    = "offload.local"
)

// Host returns an attribute for the worker address
func Host(addr string) attribute.KeyValue {
	return attribute.String(AttrHost, addr)
}

// Base returns an attribute for the discovery base address
func Base(base string) attribute.KeyValue {
	return attribute.String(AttrBase, base)
}

// Candidate returns an attribute for a probed address
func Candidate(addr string) attribute.KeyValue {
	return attribute.String(AttrCandidate, addr)
}

// Attempt returns an attribute for the probe index
func Attempt(i int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, i)
}

// Username returns an attribute for username
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// AuthMethod returns an attribute for authentication method
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// Unit returns an attribute for the offloaded function name
func Unit(name string) attribute.KeyValue {
	return attribute.String(AttrUnit, name)
}

// CallID returns an attribute for the dispatch identifier
func CallID(id string) attribute.KeyValue {
	return attribute.String(AttrCallID, id)
}

// Stage returns an attribute for the dispatch stage
func Stage(stage string) attribute.KeyValue {
	return attribute.String(AttrStage, stage)
}

// Source returns an attribute for the result source
func Source(source string) attribute.KeyValue {
	return attribute.String(AttrSource, source)
}

// ExitCode returns an attribute for the remote exit status
func ExitCode(code int) attribute.KeyValue {
	return attribute.Int(AttrExitCode, code)
}

// Path returns an attribute for the remote capsule path
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// CapsuleBytes returns an attribute for the capsule size
func CapsuleBytes(n int) attribute.KeyValue {
	return attribute.Int(AttrCapsuleBytes, n)
}

// CapsuleImports returns an attribute for the number of capsule imports
func CapsuleImports(n int) attribute.KeyValue {
	return attribute.Int(AttrCapsuleImports, n)
}

// CapsuleGlobals returns an attribute for the number of captured globals
func CapsuleGlobals(n int) attribute.KeyValue {
	return attribute.Int(AttrCapsuleGlobals, n)
}

// StartDispatchSpan starts the root span for one offloaded call.
func StartDispatchSpan(ctx context.Context, unit, callID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Unit(unit),
		CallID(callID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanDispatch, trace.WithAttributes(allAttrs...))
}

// StartProbeSpan starts a span for a single discovery probe.
func StartProbeSpan(ctx context.Context, candidate string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanProbe, trace.WithAttributes(Candidate(candidate), Attempt(attempt)))
}

// StartStageSpan starts a span for a dispatch stage (discover, build, upload, exec, cleanup).
func StartStageSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
