package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/internal/telemetry"
	"github.com/marmos91/offload/pkg/metrics"
	"github.com/marmos91/offload/pkg/transport"
	"github.com/marmos91/offload/pkg/transport/local"
)

// CommandRunner runs shell commands on the worker, or through the local
// shell when the worker cannot be reached.
type CommandRunner struct {
	resolver HostResolver
	dialer   transport.Dialer
	creds    transport.Credentials
	local    transport.Dialer
	output   io.Writer
	timeout  time.Duration
	pty      bool
	metrics  *metrics.Metrics
}

// RunnerOption customizes a CommandRunner.
type RunnerOption func(*CommandRunner)

// WithRunnerOutput displays command output on w as it arrives.
func WithRunnerOutput(w io.Writer) RunnerOption {
	return func(r *CommandRunner) {
		r.output = w
	}
}

// WithRunnerTimeout bounds each command run.
func WithRunnerTimeout(d time.Duration) RunnerOption {
	return func(r *CommandRunner) {
		r.timeout = d
	}
}

// WithRunnerPty requests a pseudo-terminal for remote runs.
func WithRunnerPty(pty bool) RunnerOption {
	return func(r *CommandRunner) {
		r.pty = pty
	}
}

// WithRunnerMetrics records fallbacks.
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *CommandRunner) {
		r.metrics = m
	}
}

// WithRunnerLocalDialer replaces the local shell transport.
func WithRunnerLocalDialer(d transport.Dialer) RunnerOption {
	return func(r *CommandRunner) {
		r.local = d
	}
}

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner(resolver HostResolver, dialer transport.Dialer, creds transport.Credentials, opts ...RunnerOption) *CommandRunner {
	r := &CommandRunner{
		resolver: resolver,
		dialer:   dialer,
		creds:    creds,
		local:    &local.Dialer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command and returns the last non-empty line of its output.
// Discovery or transport failures run the command through the local shell.
// A non-zero exit status is not a failure.
func (r *CommandRunner) Run(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", ErrEmptyCommand
	}

	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanExec)
	defer span.End()

	res, err := r.runOn(ctx, r.remoteSession, command)
	if err == nil {
		return res.LastLine(), nil
	}

	stage := stageOf(err)
	logger.WarnCtx(ctx, "Remote command failed; running locally",
		logger.KeyCommand, command, logger.Stage(stage.String()), logger.Err(err))
	telemetry.RecordError(ctx, err)
	r.metrics.ObserveFallback(stage.String())

	res, err = r.runOn(ctx, r.localSession, command)
	if err != nil {
		return "", err
	}
	return res.LastLine(), nil
}

func (r *CommandRunner) remoteSession(ctx context.Context) (transport.Session, error) {
	host, err := r.resolver.Resolve(ctx)
	if err != nil {
		return nil, &StageError{State: StateDiscovering, Err: err}
	}
	sess, err := r.dialer.Dial(ctx, host, r.creds)
	if err != nil {
		return nil, &StageError{State: StateDiscovering, Err: err}
	}
	return sess, nil
}

func (r *CommandRunner) localSession(ctx context.Context) (transport.Session, error) {
	return r.local.Dial(ctx, local.Addr, r.creds)
}

func (r *CommandRunner) runOn(ctx context.Context, open func(context.Context) (transport.Session, error), command string) (*transport.Result, error) {
	sess, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			logger.DebugCtx(ctx, "Session close failed", logger.Err(err))
		}
	}()

	logger.DebugCtx(ctx, "Running command", logger.Host(sess.Addr()), logger.KeyCommand, command)
	res, err := sess.Run(ctx, command, transport.RunOptions{
		Output:        r.output,
		Capture:       true,
		CombineStderr: false,
		Pty:           r.pty && sess.Addr() != local.Addr,
		Timeout:       r.timeout,
	})
	if err != nil {
		return nil, &StageError{State: StateExecuting, Err: err}
	}
	return res, nil
}
