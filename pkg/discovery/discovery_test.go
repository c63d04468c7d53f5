package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/offload/pkg/metrics"
	"github.com/marmos91/offload/pkg/transport"
)

// fakeDialer answers dials from a per-address behavior table.
// Addresses without an entry are unreachable.
type fakeDialer struct {
	mu       sync.Mutex
	dials    []string
	behavior map[string]func(ctx context.Context) (transport.Session, error)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{behavior: make(map[string]func(ctx context.Context) (transport.Session, error))}
}

func (d *fakeDialer) reachable(addrs ...string) *fakeDialer {
	for _, addr := range addrs {
		d.behavior[addr] = func(context.Context) (transport.Session, error) {
			return &fakeSession{}, nil
		}
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, addr string, _ transport.Credentials) (transport.Session, error) {
	d.mu.Lock()
	d.dials = append(d.dials, addr)
	fn := d.behavior[addr]
	d.mu.Unlock()

	if fn == nil {
		return nil, transport.NewError("dial", addr, transport.ErrUnreachable)
	}
	return fn(ctx)
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

type fakeSession struct {
	exitCode int
	closed   bool
}

func (s *fakeSession) Addr() string { return "fake" }

func (s *fakeSession) Run(context.Context, string, transport.RunOptions) (*transport.Result, error) {
	return &transport.Result{ExitCode: s.exitCode}, nil
}

func (s *fakeSession) Upload(context.Context, io.Reader, string) error { return nil }

func (s *fakeSession) Remove(context.Context, string) error { return nil }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveProbe(result string, _ time.Duration) {
	o.mu.Lock()
	o.results = append(o.results, result)
	o.mu.Unlock()
}

func testConfig(max int) Config {
	return Config{
		BaseAddress:   "10.0.0.",
		MaxCandidates: max,
		ProbeTimeout:  200 * time.Millisecond,
	}
}

func creds() transport.Credentials {
	return transport.PasswordCredentials("pi", "raspberry")
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"192.168.0.10", "192.168.0.11", "192.168.0.12"}, Candidates("192.168.0.1", 3))
	assert.Empty(t, Candidates("x", 0))
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(newFakeDialer(), creds(), Config{})
	assert.Equal(t, DefaultConfig(), r.Config())
}

func TestResolveMemoizes(t *testing.T) {
	dialer := newFakeDialer().reachable("10.0.0.0")
	r := New(dialer, creds(), testConfig(3))

	first, err := r.Resolve(context.Background())
	require.NoError(t, err)
	second, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.0", first)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"10.0.0.0"}, dialer.dialed())

	cached, ok := r.Cached("10.0.0.")
	assert.True(t, ok)
	assert.Equal(t, first, cached)
}

func TestResolveCandidateOrdering(t *testing.T) {
	dialer := newFakeDialer().reachable("10.0.0.1", "10.0.0.2")
	r := New(dialer, creds(), testConfig(3))

	host, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", host)
	assert.Equal(t, []string{"10.0.0.0", "10.0.0.1"}, dialer.dialed())
}

func TestResolveExhaustion(t *testing.T) {
	dialer := newFakeDialer()
	observer := &recordingObserver{}
	r := New(dialer, creds(), testConfig(4), WithProbeObserver(observer))

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryExhausted)
	assert.ErrorIs(t, err, transport.ErrUnreachable)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Len(t, exhausted.Failures, 4)
	assert.Equal(t, "10.0.0.3", exhausted.Failures[3].Candidate)

	assert.Len(t, dialer.dialed(), 4)
	assert.Equal(t, []string{metrics.ProbeError, metrics.ProbeError, metrics.ProbeError, metrics.ProbeError}, observer.results)

	_, ok := r.Cached("10.0.0.")
	assert.False(t, ok, "exhaustion must not be memoized")
}

func TestProbeTimeoutMovesOn(t *testing.T) {
	dialer := newFakeDialer().reachable("10.0.0.1")
	// Candidate 0 hangs and ignores its context.
	dialer.behavior["10.0.0.0"] = func(context.Context) (transport.Session, error) {
		time.Sleep(time.Second)
		return &fakeSession{}, nil
	}
	observer := &recordingObserver{}

	cfg := testConfig(2)
	cfg.ProbeTimeout = 50 * time.Millisecond
	r := New(dialer, creds(), cfg, WithProbeObserver(observer))

	start := time.Now()
	host, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", host)
	assert.Less(t, time.Since(start), 800*time.Millisecond)
	assert.Equal(t, []string{metrics.ProbeTimeout, metrics.ProbeOK}, observer.results)
}

func TestProbeClassification(t *testing.T) {
	dialer := newFakeDialer()
	dialer.behavior["10.0.0.0"] = func(context.Context) (transport.Session, error) {
		return nil, transport.NewError("auth", "10.0.0.0", fmt.Errorf("%w: bad password", transport.ErrAuthenticationFailed))
	}
	dialer.behavior["10.0.0.1"] = func(context.Context) (transport.Session, error) {
		return &fakeSession{exitCode: 127}, nil
	}
	observer := &recordingObserver{}
	r := New(dialer, creds(), testConfig(2), WithProbeObserver(observer))

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrDiscoveryExhausted)
	assert.ErrorIs(t, err, transport.ErrAuthenticationFailed)
	assert.Equal(t, []string{metrics.ProbeAuth, metrics.ProbeError}, observer.results)
	assert.Contains(t, err.Error(), "exited with status 127")
}

func TestProbeClosesSession(t *testing.T) {
	sess := &fakeSession{}
	dialer := newFakeDialer()
	dialer.behavior["10.0.0.0"] = func(context.Context) (transport.Session, error) {
		return sess, nil
	}
	r := New(dialer, creds(), testConfig(1))

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.closed)
}

func TestResolveSingleflight(t *testing.T) {
	dialer := newFakeDialer()
	dialer.behavior["10.0.0.0"] = func(context.Context) (transport.Session, error) {
		time.Sleep(30 * time.Millisecond)
		return &fakeSession{}, nil
	}
	r := New(dialer, creds(), testConfig(1))

	var wg sync.WaitGroup
	hosts := make([]string, 8)
	for i := range hosts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			host, err := r.Resolve(context.Background())
			assert.NoError(t, err)
			hosts[i] = host
		}(i)
	}
	wg.Wait()

	for _, h := range hosts {
		assert.Equal(t, "10.0.0.0", h)
	}
	assert.Len(t, dialer.dialed(), 1)
}

func TestResolveCancelled(t *testing.T) {
	dialer := newFakeDialer()
	r := New(dialer, creds(), testConfig(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrDiscoveryExhausted))
	assert.Empty(t, dialer.dialed())
}

func TestForgetRescans(t *testing.T) {
	dialer := newFakeDialer().reachable("10.0.0.0")
	r := New(dialer, creds(), testConfig(1))

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	r.Forget("10.0.0.")
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Len(t, dialer.dialed(), 2)
}

func TestResolveBaseKeysMemo(t *testing.T) {
	dialer := newFakeDialer().reachable("10.0.0.0", "10.0.1.0")
	r := New(dialer, creds(), testConfig(1))

	a, err := r.ResolveBase(context.Background(), "10.0.0.")
	require.NoError(t, err)
	b, err := r.ResolveBase(context.Background(), "10.0.1.")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.0", a)
	assert.Equal(t, "10.0.1.0", b)
}

func TestExhaustedErrorMessage(t *testing.T) {
	err := &ExhaustedError{
		Base:     "10.0.0.",
		Attempts: 1,
		Failures: []ProbeFailure{{Candidate: "10.0.0.0", Err: transport.ErrUnreachable}},
	}
	assert.Contains(t, err.Error(), `base "10.0.0."`)
	assert.Contains(t, err.Error(), "10.0.0.0: worker unreachable")
}
