// Package dispatch runs functions on a discovered worker and falls back to
// running them locally.
//
// A dispatch walks through the following states:
//
//   - Discovering: resolve the worker and open a session
//   - Building: build a fresh capsule for the call
//   - Uploading: write it to a per-call unique path on the worker
//   - Executing: run it, displaying output and capturing it
//   - Collecting: remove the artifact and parse the payload
//
// Any failure moves the call to LocalFallback, where the original function
// runs in-process through reflection. Callers always get an Outcome of the
// same shape.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/internal/telemetry"
	"github.com/marmos91/offload/pkg/capsule"
	"github.com/marmos91/offload/pkg/discovery"
	"github.com/marmos91/offload/pkg/metrics"
	"github.com/marmos91/offload/pkg/transport"
	"github.com/marmos91/offload/pkg/transport/local"
)

const (
	DefaultRemoteDir  = "."
	DefaultRunCommand = "go run"

	// artifactPrefix names uploaded capsules: <dir>/offload-capsule-<uuid>.go
	artifactPrefix = "offload-capsule-"

	cleanupTimeout = 10 * time.Second
)

// HostResolver finds the worker to dispatch to.
// *discovery.Resolver implements it.
type HostResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// CapsuleBuilder builds a capsule for a call.
// *capsule.Builder implements it.
type CapsuleBuilder interface {
	Build(fn any, args ...any) (*capsule.Capsule, error)
}

// Config controls remote execution.
type Config struct {
	// RemoteDir is where capsules are uploaded. Relative paths are relative
	// to the login directory. Default: "."
	RemoteDir string

	// RunCommand runs a capsule; the artifact path is appended.
	// Default: "go run"
	RunCommand string

	// ExecTimeout bounds the remote run. Zero means no limit.
	ExecTimeout time.Duration

	// FallbackOnExitError runs the function locally when the capsule exits
	// non-zero instead of returning an outcome without payload.
	FallbackOnExitError bool

	// AbortOnExhausted returns discovery exhaustion to the caller instead of
	// falling back.
	AbortOnExhausted bool

	// Pty requests a pseudo-terminal for the remote run.
	Pty bool

	// Output receives the displayed remote output. Marker lines are hidden.
	// Default: os.Stdout. Use io.Discard to silence it.
	Output io.Writer
}

// Dispatcher offloads calls. It is safe for concurrent use; every call owns
// its session and artifact path.
type Dispatcher struct {
	resolver HostResolver
	dialer   transport.Dialer
	creds    transport.Credentials
	builder  CapsuleBuilder
	local    transport.Dialer
	config   Config
	metrics  *metrics.Metrics
	hook     StateHook
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithStateHook observes every state transition.
func WithStateHook(h StateHook) Option {
	return func(d *Dispatcher) {
		d.hook = h
	}
}

// WithMetrics records dispatch metrics. A nil *metrics.Metrics is allowed.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLocalDialer replaces the transport Execute falls back to.
func WithLocalDialer(dialer transport.Dialer) Option {
	return func(d *Dispatcher) {
		d.local = dialer
	}
}

// New creates a Dispatcher.
func New(resolver HostResolver, dialer transport.Dialer, creds transport.Credentials, builder CapsuleBuilder, cfg Config, opts ...Option) *Dispatcher {
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = DefaultRemoteDir
	}
	if cfg.RunCommand == "" {
		cfg.RunCommand = DefaultRunCommand
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	d := &Dispatcher{
		resolver: resolver,
		dialer:   dialer,
		creds:    creds,
		builder:  builder,
		local:    &local.Dialer{},
		config:   cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

// ============================================================================
// Calls
// ============================================================================

// call tracks one dispatch through its states.
type call struct {
	d     *Dispatcher
	id    string
	unit  string
	state State
	start time.Time
}

func (d *Dispatcher) newCall(ctx context.Context, unit string) (context.Context, *call) {
	c := &call{d: d, id: uuid.NewString(), unit: unit, state: StateStart, start: time.Now()}
	ctx = logger.WithContext(ctx, logger.NewLogContext(c.id, unit))
	return ctx, c
}

func (c *call) enter(ctx context.Context, to State, cause error) {
	from := c.state
	c.state = to
	logger.DebugCtx(ctx, "Dispatch state", logger.Stage(to.String()))
	telemetry.AddEvent(ctx, to.String())
	if c.d.hook != nil {
		c.d.hook(Transition{CallID: c.id, Unit: c.unit, From: from, To: to, Err: cause})
	}
}

// fail wraps err with the current state.
func (c *call) fail(err error) error {
	return c.failAt(c.state, err)
}

func (c *call) failAt(state State, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{State: state, Err: err}
}

// Dispatch runs fn(args...) on the worker, falling back to a local call on
// any offload failure. Errors are returned only for invalid units and, with
// AbortOnExhausted, for discovery exhaustion.
func (d *Dispatcher) Dispatch(ctx context.Context, fn any, args ...any) (*Outcome, error) {
	fv, values, err := prepare(fn, args)
	if err != nil {
		return nil, err
	}

	ctx, c := d.newCall(ctx, unitName(fv))
	ctx, span := telemetry.StartDispatchSpan(ctx, c.unit, c.id)
	defer span.End()
	ctx = telemetry.WithLogContext(ctx)

	out, err := d.remote(ctx, c, func() (*capsule.Capsule, error) {
		return d.builder.Build(fn, args...)
	})
	if err == nil {
		d.finish(ctx, c, out)
		return out, nil
	}

	if d.config.AbortOnExhausted && errors.Is(err, discovery.ErrDiscoveryExhausted) {
		logger.ErrorCtx(ctx, "Worker discovery exhausted; aborting", logger.Err(err))
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	d.fallback(ctx, c, err)
	out = d.runLocal(ctx, fv, values)
	d.finish(ctx, c, out)
	return out, nil
}

// Offload runs fn(args...) on the worker only. Failures are returned as
// *StageError instead of falling back.
func (d *Dispatcher) Offload(ctx context.Context, fn any, args ...any) (*Outcome, error) {
	if _, _, err := prepare(fn, args); err != nil {
		return nil, err
	}

	ctx, c := d.newCall(ctx, unitName(reflect.ValueOf(fn)))
	ctx, span := telemetry.StartDispatchSpan(ctx, c.unit, c.id)
	defer span.End()
	ctx = telemetry.WithLogContext(ctx)

	out, err := d.remote(ctx, c, func() (*capsule.Capsule, error) {
		return d.builder.Build(fn, args...)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	d.finish(ctx, c, out)
	return out, nil
}

// Execute runs a prebuilt capsule on the worker, falling back to running it
// with the local transport.
func (d *Dispatcher) Execute(ctx context.Context, prog *capsule.Capsule) (*Outcome, error) {
	if prog == nil {
		return nil, fmt.Errorf("%w: nil capsule", ErrInvalidUnit)
	}

	ctx, c := d.newCall(ctx, prog.Unit)
	ctx, span := telemetry.StartDispatchSpan(ctx, c.unit, c.id)
	defer span.End()
	ctx = telemetry.WithLogContext(ctx)

	out, err := d.remote(ctx, c, func() (*capsule.Capsule, error) { return prog, nil })
	if err == nil {
		d.finish(ctx, c, out)
		return out, nil
	}

	if d.config.AbortOnExhausted && errors.Is(err, discovery.ErrDiscoveryExhausted) {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	d.fallback(ctx, c, err)
	out, err = d.runCapsuleLocally(ctx, c, prog)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	d.finish(ctx, c, out)
	return out, nil
}

func (d *Dispatcher) fallback(ctx context.Context, c *call, cause error) {
	stage := stageOf(cause)
	logger.WarnCtx(ctx, "Offload failed; running locally",
		logger.Stage(stage.String()), logger.Err(cause))
	telemetry.RecordError(ctx, cause)
	telemetry.SetAttributes(ctx, telemetry.Stage(stage.String()))
	d.metrics.ObserveFallback(stage.String())
	// Report the transition from the state that failed; a run error is only
	// surfaced after cleanup.
	c.state = stage
	c.enter(ctx, StateLocalFallback, cause)
}

func (d *Dispatcher) finish(ctx context.Context, c *call, out *Outcome) {
	out.CallID = c.id
	elapsed := time.Since(c.start)
	d.metrics.ObserveDispatch(string(out.Source), elapsed)
	telemetry.SetAttributes(ctx,
		telemetry.Source(string(out.Source)),
		telemetry.ExitCode(out.ExitCode))
	telemetry.SetStatus(ctx, codes.Ok, "")
	logger.InfoCtx(ctx, "Call completed",
		logger.KeySource, out.Source,
		logger.KeyExitCode, out.ExitCode,
		logger.KeyPayload, out.HasPayload(),
		logger.KeyDurationMs, float64(elapsed.Microseconds())/1000.0)
}

// ============================================================================
// Remote pipeline
// ============================================================================

// remote performs one remote attempt. A non-nil error is always a
// *StageError.
func (d *Dispatcher) remote(ctx context.Context, c *call, build func() (*capsule.Capsule, error)) (*Outcome, error) {
	c.enter(ctx, StateDiscovering, nil)
	host, err := d.discover(ctx)
	if err != nil {
		return nil, c.fail(err)
	}
	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.WithHost(host))
	}
	telemetry.SetAttributes(ctx, telemetry.Host(host))

	sess, err := d.dialer.Dial(ctx, host, d.creds)
	if err != nil {
		return nil, c.fail(err)
	}
	defer func() {
		if err := sess.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			logger.DebugCtx(ctx, "Session close failed", logger.Err(err))
		}
	}()

	c.enter(ctx, StateBuilding, nil)
	prog, err := d.build(ctx, build)
	if err != nil {
		return nil, c.fail(err)
	}

	c.enter(ctx, StateUploading, nil)
	artifact := d.artifactPath()
	if err := d.upload(ctx, sess, prog, artifact); err != nil {
		return nil, c.fail(err)
	}

	c.enter(ctx, StateExecuting, nil)
	res, runErr := d.execute(ctx, sess, artifact)

	c.enter(ctx, StateCollecting, nil)
	d.cleanup(ctx, sess, artifact)
	if runErr != nil {
		return nil, c.failAt(StateExecuting, runErr)
	}

	d.metrics.ObserveExit(res.ExitCode)
	out := &Outcome{
		Source:   SourceRemote,
		Host:     host,
		ExitCode: res.ExitCode,
		Arity:    prog.Arity,
	}

	if !res.Success() {
		logger.WarnCtx(ctx, "Capsule exited with non-zero status", logger.KeyExitCode, res.ExitCode)
		if d.config.FallbackOnExitError {
			return nil, c.failAt(StateExecuting, fmt.Errorf("%w: exit status %d", ErrRemoteExecution, res.ExitCode))
		}
		c.enter(ctx, StateDone, nil)
		return out, nil
	}

	if prog.Arity > 0 {
		if payload, ok := capsule.ParsePayload(res.Lines); ok {
			out.Payload = payload
		} else {
			logger.WarnCtx(ctx, "Capsule produced no result line", logger.KeyLines, len(res.Lines))
		}
	}

	c.enter(ctx, StateDone, nil)
	return out, nil
}

func (d *Dispatcher) discover(ctx context.Context) (string, error) {
	host, err := d.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	logger.DebugCtx(ctx, "Worker resolved", logger.Host(host))
	return host, nil
}

func (d *Dispatcher) build(ctx context.Context, build func() (*capsule.Capsule, error)) (*capsule.Capsule, error) {
	_, span := telemetry.StartStageSpan(ctx, telemetry.SpanBuild)
	defer span.End()

	prog, err := build()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		telemetry.CapsuleBytes(prog.Size()),
		telemetry.CapsuleImports(len(prog.Imports)),
		telemetry.CapsuleGlobals(len(prog.Globals)))
	d.metrics.ObserveCapsule(prog.Size())
	return prog, nil
}

func (d *Dispatcher) artifactPath() string {
	return path.Join(d.config.RemoteDir, artifactPrefix+uuid.NewString()+".go")
}

func (d *Dispatcher) upload(ctx context.Context, sess transport.Session, prog *capsule.Capsule, artifact string) error {
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanUpload,
		telemetry.Path(artifact), telemetry.CapsuleBytes(prog.Size()))
	defer span.End()

	logger.DebugCtx(ctx, "Uploading capsule", logger.KeyPath, artifact, logger.KeyBytes, prog.Size())
	if err := sess.Upload(ctx, prog.Reader(), artifact); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, sess transport.Session, artifact string) (*transport.Result, error) {
	command := d.config.RunCommand + " " + artifact
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanExec, telemetry.Path(artifact))
	defer span.End()

	logger.DebugCtx(ctx, "Running capsule", logger.KeyCommand, command)
	res, err := sess.Run(ctx, command, transport.RunOptions{
		Output:  d.config.Output,
		Filter:  displayable,
		Capture: true,
		Pty:     d.config.Pty,
		Timeout: d.config.ExecTimeout,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(telemetry.ExitCode(res.ExitCode))
	return res, nil
}

// cleanup removes the artifact. Failures are only logged; the call result
// does not depend on them.
func (d *Dispatcher) cleanup(ctx context.Context, sess transport.Session, artifact string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanCleanup, telemetry.Path(artifact))
	defer span.End()

	if err := sess.Remove(ctx, artifact); err != nil {
		span.RecordError(err)
		logger.WarnCtx(ctx, "Failed to remove capsule", logger.KeyPath, artifact, logger.Err(err))
	}
}

// displayable hides result lines from the displayed output.
func displayable(line string) bool {
	return !capsule.IsMarkerLine(line)
}

// ============================================================================
// Local execution
// ============================================================================

// prepare validates fn and its arguments.
func prepare(fn any, args []any) (reflect.Value, []reflect.Value, error) {
	fv := reflect.ValueOf(fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return reflect.Value{}, nil, fmt.Errorf("%w: %T is not a function", ErrInvalidUnit, fn)
	}
	values, err := capsule.PrepareArgs(fv, args)
	if err != nil {
		return reflect.Value{}, nil, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
	}
	return fv, values, nil
}

// runLocal calls fn in-process. Panics propagate like they would for a
// direct call.
func (d *Dispatcher) runLocal(ctx context.Context, fv reflect.Value, values []reflect.Value) *Outcome {
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanLocal)
	defer span.End()

	var results []reflect.Value
	telemetry.ProfileUnit(ctx, unitName(fv), func(context.Context) {
		results = fv.Call(values)
	})
	out := &Outcome{Source: SourceLocal, Arity: len(results)}
	if len(results) == 0 {
		return out
	}

	out.local = results
	native := make([]any, len(results))
	for i, r := range results {
		native[i] = r.Interface()
	}
	payload, err := capsule.EncodePayload(native)
	if err != nil {
		logger.DebugCtx(ctx, "Local results have no JSON form", logger.Err(err))
		return out
	}
	out.Payload = payload
	return out
}

// runCapsuleLocally runs a prebuilt capsule through the local transport.
func (d *Dispatcher) runCapsuleLocally(ctx context.Context, c *call, prog *capsule.Capsule) (*Outcome, error) {
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanLocal)
	defer span.End()

	sess, err := d.local.Dial(ctx, local.Addr, d.creds)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	artifact := filepath.Join(os.TempDir(), artifactPrefix+c.id+".go")
	if err := sess.Upload(ctx, prog.Reader(), artifact); err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Remove(context.WithoutCancel(ctx), artifact); err != nil {
			logger.WarnCtx(ctx, "Failed to remove local capsule", logger.KeyPath, artifact, logger.Err(err))
		}
	}()

	res, err := sess.Run(ctx, d.config.RunCommand+" "+artifact, transport.RunOptions{
		Output:  d.config.Output,
		Filter:  displayable,
		Capture: true,
		Timeout: d.config.ExecTimeout,
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{Source: SourceLocal, ExitCode: res.ExitCode, Arity: prog.Arity}
	if res.Success() && prog.Arity > 0 {
		out.Payload, _ = capsule.ParsePayload(res.Lines)
	}
	return out, nil
}

// unitName returns the runtime name of a function value.
func unitName(fv reflect.Value) string {
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return ""
	}
	if rf := runtime.FuncForPC(fv.Pointer()); rf != nil {
		return rf.Name()
	}
	return ""
}
