// Package discovery finds the one worker an offloader talks to.
//
// Candidates are formed by appending 0..MaxCandidates-1 to a base address
// and probed in that order: dial, authenticate, and run a no-op command
// under a per-probe timeout. The first candidate to pass is memoized for the
// lifetime of the Resolver; a worker that later goes away is not noticed.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/internal/telemetry"
	"github.com/marmos91/offload/pkg/metrics"
	"github.com/marmos91/offload/pkg/transport"
)

// Defaults mirror a small home network with the worker near the bottom of
// the address range.
const (
	DefaultBaseAddress   = "192.168.0.1"
	DefaultMaxCandidates = 9
	DefaultProbeTimeout  = time.Second
	DefaultProbeCommand  = "true"
)

// Config configures candidate generation and probing.
type Config struct {
	// BaseAddress is the prefix that candidate suffixes are appended to.
	BaseAddress string

	// MaxCandidates bounds the scan. Default: 9
	MaxCandidates int

	// ProbeTimeout is the wall-clock budget for one probe
	// (connect, authenticate, run). Default: 1s
	ProbeTimeout time.Duration

	// ProbeCommand is run on the candidate to prove the session works.
	// Default: "true"
	ProbeCommand string
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() Config {
	return Config{
		BaseAddress:   DefaultBaseAddress,
		MaxCandidates: DefaultMaxCandidates,
		ProbeTimeout:  DefaultProbeTimeout,
		ProbeCommand:  DefaultProbeCommand,
	}
}

// ProbeObserver receives the result of every probe.
type ProbeObserver interface {
	ObserveProbe(result string, d time.Duration)
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithProbeObserver reports probe results to o (typically *metrics.Metrics).
func WithProbeObserver(o ProbeObserver) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// Resolver discovers and memoizes workers per base address.
// It is safe for concurrent use; concurrent resolutions of the same base
// share a single scan.
type Resolver struct {
	dialer   transport.Dialer
	creds    transport.Credentials
	config   Config
	observer ProbeObserver

	mu    sync.RWMutex
	hosts map[string]string // base -> discovered address

	group singleflight.Group
}

// New creates a Resolver. Zero-valued config fields take their defaults.
func New(dialer transport.Dialer, creds transport.Credentials, cfg Config, opts ...Option) *Resolver {
	defaults := DefaultConfig()
	if cfg.BaseAddress == "" {
		cfg.BaseAddress = defaults.BaseAddress
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaults.MaxCandidates
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.ProbeCommand == "" {
		cfg.ProbeCommand = defaults.ProbeCommand
	}

	r := &Resolver{
		dialer: dialer,
		creds:  creds,
		config: cfg,
		hosts:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config {
	return r.config
}

// Credentials returns the credential set used for probes.
func (r *Resolver) Credentials() transport.Credentials {
	return r.creds
}

// Resolve returns the worker for the configured base address.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	return r.ResolveBase(ctx, r.config.BaseAddress)
}

// ResolveBase returns the worker for base, scanning candidates on the first
// call. Exhaustion returns an *ExhaustedError and is not memoized, so a
// later call scans again.
func (r *Resolver) ResolveBase(ctx context.Context, base string) (string, error) {
	if host, ok := r.Cached(base); ok {
		return host, nil
	}

	v, err, shared := r.group.Do(base, func() (any, error) {
		if host, ok := r.Cached(base); ok {
			return host, nil
		}

		host, err := r.scan(ctx, base)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		r.hosts[base] = host
		r.mu.Unlock()
		return host, nil
	})
	if shared {
		logger.DebugCtx(ctx, "Joined in-flight discovery", logger.KeyBase, base)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cached returns the memoized worker for base, if any.
func (r *Resolver) Cached(base string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, ok := r.hosts[base]
	return host, ok
}

// Forget drops the memoized worker for base. The dispatcher never calls it;
// it exists for explicit refreshes.
func (r *Resolver) Forget(base string) {
	r.mu.Lock()
	delete(r.hosts, base)
	r.mu.Unlock()
}

// Candidates returns the addresses probed for base, in probe order.
func Candidates(base string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, base+strconv.Itoa(i))
	}
	return out
}

func (r *Resolver) scan(ctx context.Context, base string) (string, error) {
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanDiscover, telemetry.Base(base))
	defer span.End()

	start := time.Now()
	candidates := Candidates(base, r.config.MaxCandidates)
	exhausted := &ExhaustedError{Base: base}

	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		exhausted.Attempts++
		err := r.probe(ctx, candidate, i)
		if err == nil {
			telemetry.SetAttributes(ctx, telemetry.Host(candidate))
			logger.InfoCtx(ctx, "Worker discovered",
				logger.KeyHost, candidate,
				logger.KeyAttempt, i+1,
				logger.KeyDurationMs, logger.Duration(start))
			return candidate, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		exhausted.Failures = append(exhausted.Failures, ProbeFailure{Candidate: candidate, Err: err})
	}

	telemetry.RecordError(ctx, exhausted)
	logger.WarnCtx(ctx, "Worker discovery exhausted",
		logger.KeyBase, base,
		logger.KeyAttempt, exhausted.Attempts,
		logger.KeyDurationMs, logger.Duration(start))
	return "", exhausted
}

// probe checks one candidate within the probe timeout. The timeout is
// enforced here even if the transport ignores its context: a probe that
// overruns is abandoned and its session closed once it returns.
func (r *Resolver) probe(ctx context.Context, candidate string, attempt int) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
	defer cancel()
	ctx, span := telemetry.StartProbeSpan(ctx, candidate, attempt)
	defer span.End()

	done := make(chan error, 1)
	go func() {
		sess, err := r.dialer.Dial(ctx, candidate, r.creds)
		if err != nil {
			done <- err
			return
		}
		res, err := sess.Run(ctx, r.config.ProbeCommand, transport.RunOptions{})
		_ = sess.Close()
		if err == nil && !res.Success() {
			err = fmt.Errorf("probe command %q exited with status %d", r.config.ProbeCommand, res.ExitCode)
		}
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	result := probeResult(err)
	if r.observer != nil {
		r.observer.ObserveProbe(result, time.Since(start))
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "Probe failed",
			logger.KeyCandidate, candidate,
			logger.KeyAttempt, attempt+1,
			"result", result,
			logger.KeyError, err.Error())
		return err
	}

	logger.DebugCtx(ctx, "Probe succeeded", logger.KeyCandidate, candidate, logger.KeyAttempt, attempt+1)
	return nil
}

func probeResult(err error) string {
	switch {
	case err == nil:
		return metrics.ProbeOK
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.ProbeTimeout
	case errors.Is(err, transport.ErrAuthenticationFailed):
		return metrics.ProbeAuth
	default:
		return metrics.ProbeError
	}
}
