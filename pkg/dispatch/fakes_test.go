package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/marmos91/offload/pkg/capsule"
	"github.com/marmos91/offload/pkg/transport"
)

// Units dispatched by the tests.

func double(n int) int {
	return n * 2
}

func greet(name string) (string, error) {
	if name == "" {
		return "", errors.New("no name")
	}
	return "hello " + name, nil
}

var sideEffects int

func touch() {
	sideEffects++
}

func add3(a, b, c int) int {
	return a + b + c
}

// fakeResolver returns a fixed host or error.
type fakeResolver struct {
	mu    sync.Mutex
	host  string
	err   error
	calls int
}

func (r *fakeResolver) Resolve(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.host, r.err
}

// fakeBuilder returns an error or delegates to a real builder.
type fakeBuilder struct {
	err error
}

func (b *fakeBuilder) Build(fn any, args ...any) (*capsule.Capsule, error) {
	if b.err != nil {
		return nil, b.err
	}
	return capsule.NewBuilder().Build(fn, args...)
}

// fakeDialer hands out fakeSessions sharing one script.
type fakeDialer struct {
	mu      sync.Mutex
	err     error
	script  script
	dialed  []string
	session []*fakeSession
}

// script describes how sessions behave.
type script struct {
	lines     []string
	exitCode  int
	runErr    error
	uploadErr error
	removeErr error
}

func (d *fakeDialer) Dial(_ context.Context, addr string, _ transport.Credentials) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, addr)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSession{addr: addr, script: d.script, uploads: make(map[string][]byte)}
	d.session = append(d.session, s)
	return s, nil
}

func (d *fakeDialer) sessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.session...)
}

type fakeSession struct {
	mu       sync.Mutex
	addr     string
	script   script
	uploads  map[string][]byte
	commands []string
	options  []transport.RunOptions
	removed  []string
	closed   bool
}

func (s *fakeSession) Addr() string { return s.addr }

func (s *fakeSession) Run(_ context.Context, command string, opts transport.RunOptions) (*transport.Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.options = append(s.options, opts)
	s.mu.Unlock()

	if s.script.runErr != nil {
		return &transport.Result{ExitCode: transport.UnknownExitCode}, s.script.runErr
	}
	var lines []string
	for _, line := range s.script.lines {
		if opts.Capture {
			lines = append(lines, line)
		}
		if opts.Output != nil && (opts.Filter == nil || opts.Filter(line)) {
			_, _ = io.WriteString(opts.Output, line+"\n")
		}
	}
	return &transport.Result{ExitCode: s.script.exitCode, Lines: lines}, nil
}

func (s *fakeSession) Upload(_ context.Context, r io.Reader, path string) error {
	if s.script.uploadErr != nil {
		return s.script.uploadErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.mu.Lock()
	s.uploads[path] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	s.removed = append(s.removed, path)
	s.mu.Unlock()
	return s.script.removeErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true
	return nil
}

func (s *fakeSession) uploadedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.uploads))
	for p := range s.uploads {
		paths = append(paths, p)
	}
	return paths
}
