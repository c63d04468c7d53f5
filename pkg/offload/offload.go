// Package offload wires configuration into a ready-to-use Offloader: one
// credential set, one SSH dialer, one worker resolver, one capsule builder,
// a dispatcher and an ad hoc command runner, all sharing the same metrics.
//
// Build it once at startup and share it:
//
//	cfg, _ := config.Load("")
//	o, err := offload.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = o.BindEntryFile("main.go")
//	square := offload.Func1(o, square)
//	fmt.Println(square(12))
package offload

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/capsule"
	"github.com/marmos91/offload/pkg/config"
	"github.com/marmos91/offload/pkg/discovery"
	"github.com/marmos91/offload/pkg/dispatch"
	"github.com/marmos91/offload/pkg/metrics"
	"github.com/marmos91/offload/pkg/transport"
	"github.com/marmos91/offload/pkg/transport/ssh"
)

// Offloader bundles the components built from one configuration.
// It is safe for concurrent use.
type Offloader struct {
	config     *config.Config
	creds      transport.Credentials
	dialer     transport.Dialer
	resolver   *discovery.Resolver
	builder    *capsule.Builder
	dispatcher *dispatch.Dispatcher
	runner     *dispatch.CommandRunner
	metrics    *metrics.Metrics
}

type options struct {
	creds   *transport.Credentials
	dialer  transport.Dialer
	local   transport.Dialer
	output  io.Writer
	metrics *metrics.Metrics
	hook    dispatch.StateHook
}

// Option customizes New.
type Option func(*options)

// WithCredentials replaces the credentials section, e.g. with a password
// read from a prompt.
func WithCredentials(creds transport.Credentials) Option {
	return func(o *options) {
		o.creds = &creds
	}
}

// WithDialer replaces the SSH transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithLocalDialer replaces the local shell transport used by fallbacks.
func WithLocalDialer(d transport.Dialer) Option {
	return func(o *options) {
		o.local = d
	}
}

// WithOutput receives remote output instead of os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithMetrics records metrics on m instead of the global registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStateHook observes every dispatch state transition.
func WithStateHook(h dispatch.StateHook) Option {
	return func(o *options) {
		o.hook = h
	}
}

// New builds an Offloader from cfg. A nil cfg uses the defaults.
// It does not contact the worker; discovery runs on first use.
func New(cfg *config.Config, opts ...Option) (*Offloader, error) {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	creds := cfg.Credentials.TransportCredentials()
	if o.creds != nil {
		creds = *o.creds
	}

	dialer := o.dialer
	if dialer == nil {
		d, err := ssh.NewDialer(cfg.Worker.SSHConfig())
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	m := o.metrics
	if m == nil {
		m = metrics.New()
	}

	builder := capsule.NewBuilder(
		capsule.WithExcludedImports(cfg.Capsule.ExcludedImports...),
		capsule.WithMaxSize(int(cfg.Capsule.MaxSize)))
	if cfg.Capsule.EntryFile != "" {
		if err := builder.BindEntryFile(cfg.Capsule.EntryFile); err != nil {
			return nil, err
		}
	}

	var resolverOpts []discovery.Option
	if m != nil {
		resolverOpts = append(resolverOpts, discovery.WithProbeObserver(m))
	}
	resolver := discovery.New(dialer, creds, cfg.Worker.DiscoveryConfig(), resolverOpts...)

	dcfg := cfg.DispatcherConfig()
	dcfg.Output = o.output
	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(m)}
	runnerOpts := []dispatch.RunnerOption{
		dispatch.WithRunnerMetrics(m),
		dispatch.WithRunnerTimeout(cfg.Dispatch.ExecTimeout),
		dispatch.WithRunnerPty(cfg.Dispatch.Pty),
	}
	if o.hook != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithStateHook(o.hook))
	}
	if o.local != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithLocalDialer(o.local))
		runnerOpts = append(runnerOpts, dispatch.WithRunnerLocalDialer(o.local))
	}
	if o.output != nil {
		runnerOpts = append(runnerOpts, dispatch.WithRunnerOutput(o.output))
	}

	off := &Offloader{
		config:     cfg,
		creds:      creds,
		dialer:     dialer,
		resolver:   resolver,
		builder:    builder,
		dispatcher: dispatch.New(resolver, dialer, creds, builder, dcfg, dispatchOpts...),
		runner:     dispatch.NewCommandRunner(resolver, dialer, creds, runnerOpts...),
		metrics:    m,
	}

	logger.Debug("Offloader ready",
		logger.KeyBase, cfg.Worker.BaseAddress,
		logger.KeyUsername, creds.Username(),
		logger.KeyAuth, string(creds.Method()))
	return off, nil
}

// Config returns the configuration the Offloader was built from.
func (o *Offloader) Config() *config.Config { return o.config }

// Credentials returns the credential set used for every connection.
func (o *Offloader) Credentials() transport.Credentials { return o.creds }

// Resolver returns the worker resolver.
func (o *Offloader) Resolver() *discovery.Resolver { return o.resolver }

// Builder returns the capsule builder.
func (o *Offloader) Builder() *capsule.Builder { return o.builder }

// Dispatcher returns the dispatcher.
func (o *Offloader) Dispatcher() *dispatch.Dispatcher { return o.dispatcher }

// Runner returns the ad hoc command runner.
func (o *Offloader) Runner() *dispatch.CommandRunner { return o.runner }

// BindEntryFile sets the program source capsules draw imports and globals from.
func (o *Offloader) BindEntryFile(path string) error {
	return o.builder.BindEntryFile(path)
}

// Include always ships fn with every capsule.
func (o *Offloader) Include(fn any) error {
	return o.builder.Include(fn)
}

// Global snapshots the current value of the package variable name on every
// build.
func (o *Offloader) Global(name string, ptr any) error {
	return o.builder.Global(name, ptr)
}

// Discover returns the worker address, scanning on first use.
func (o *Offloader) Discover(ctx context.Context) (string, error) {
	return o.resolver.Resolve(ctx)
}

// Dispatch runs fn(args...) on the worker, falling back locally.
func (o *Offloader) Dispatch(ctx context.Context, fn any, args ...any) (*dispatch.Outcome, error) {
	return o.dispatcher.Dispatch(ctx, fn, args...)
}

// Offload runs fn(args...) on the worker without falling back.
func (o *Offloader) Offload(ctx context.Context, fn any, args ...any) (*dispatch.Outcome, error) {
	return o.dispatcher.Offload(ctx, fn, args...)
}

// Execute runs a prebuilt capsule on the worker, falling back to the local
// toolchain.
func (o *Offloader) Execute(ctx context.Context, prog *capsule.Capsule) (*dispatch.Outcome, error) {
	return o.dispatcher.Execute(ctx, prog)
}

// Run executes a shell command on the worker, or locally when it cannot be
// reached, and returns the last line of output.
func (o *Offloader) Run(ctx context.Context, command string) (string, error) {
	return o.runner.Run(ctx, command)
}

// Func0 wraps fn so every call is dispatched through o.
func Func0[R any](o *Offloader, fn func() R) func() R {
	return dispatch.Func0(o.dispatcher, fn)
}

// Func1 wraps fn so every call is dispatched through o.
func Func1[A, R any](o *Offloader, fn func(A) R) func(A) R {
	return dispatch.Func1(o.dispatcher, fn)
}

// Func2 wraps fn so every call is dispatched through o.
func Func2[A, B, R any](o *Offloader, fn func(A, B) R) func(A, B) R {
	return dispatch.Func2(o.dispatcher, fn)
}

// Proc0 wraps fn so every call is dispatched through o.
func Proc0(o *Offloader, fn func()) func() {
	return dispatch.Proc0(o.dispatcher, fn)
}
