package dispatch

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/offload/pkg/metrics"
	"github.com/marmos91/offload/pkg/transport/local"
)

func TestCommandRunnerRemote(t *testing.T) {
	resolver := &fakeResolver{host: workerHost}
	dialer := &fakeDialer{script: script{lines: []string{"Linux", "aarch64", ""}}}
	out := new(bytes.Buffer)

	r := NewCommandRunner(resolver, dialer, testCreds,
		WithRunnerOutput(out), WithRunnerTimeout(time.Minute), WithRunnerPty(true))

	line, err := r.Run(context.Background(), "uname -sm")
	require.NoError(t, err)
	assert.Equal(t, "aarch64", line)
	assert.Equal(t, "Linux\naarch64\n\n", out.String())

	sess := dialer.sessions()[0]
	assert.Equal(t, []string{"uname -sm"}, sess.commands)
	assert.True(t, sess.options[0].Pty)
	assert.Equal(t, time.Minute, sess.options[0].Timeout)
	assert.True(t, sess.closed)
}

func TestCommandRunnerNonZeroExitIsNotFailure(t *testing.T) {
	resolver := &fakeResolver{host: workerHost}
	dialer := &fakeDialer{script: script{lines: []string{"not found"}, exitCode: 127}}
	localDialer := &fakeDialer{script: script{lines: []string{"local"}}}

	r := NewCommandRunner(resolver, dialer, testCreds, WithRunnerLocalDialer(localDialer))

	line, err := r.Run(context.Background(), "missing-tool")
	require.NoError(t, err)
	assert.Equal(t, "not found", line)
	assert.Empty(t, localDialer.sessions())
}

func TestCommandRunnerFallsBackLocally(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *fakeResolver, d *fakeDialer)
		stage string
	}{
		{"Discovery", func(r *fakeResolver, _ *fakeDialer) { r.err = errors.New("offline") }, "discovering"},
		{"Dial", func(_ *fakeResolver, d *fakeDialer) { d.err = errors.New("refused") }, "discovering"},
		{"Run", func(_ *fakeResolver, d *fakeDialer) { d.script.runErr = errors.New("broken pipe") }, "executing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{host: workerHost}
			dialer := &fakeDialer{}
			tt.setup(resolver, dialer)
			localDialer := &fakeDialer{script: script{lines: []string{"from local"}}}
			reg := prometheus.NewRegistry()

			r := NewCommandRunner(resolver, dialer, testCreds,
				WithRunnerLocalDialer(localDialer),
				WithRunnerPty(true),
				WithRunnerMetrics(metrics.NewWithRegisterer(reg)))

			line, err := r.Run(context.Background(), "hostname")
			require.NoError(t, err)
			assert.Equal(t, "from local", line)

			sessions := localDialer.sessions()
			require.Len(t, sessions, 1)
			assert.Equal(t, []string{local.Addr}, localDialer.dialed)
			assert.True(t, sessions[0].closed)
			assert.Equal(t, 1.0, counter(t, reg, "offload_fallbacks_total", "stage", tt.stage))
		})
	}
}

func TestCommandRunnerLocalFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("offline")}
	localDialer := &fakeDialer{err: errors.New("no shell")}

	r := NewCommandRunner(resolver, &fakeDialer{}, testCreds, WithRunnerLocalDialer(localDialer))

	_, err := r.Run(context.Background(), "true")
	assert.EqualError(t, err, "no shell")
}

func TestCommandRunnerEmptyCommand(t *testing.T) {
	r := NewCommandRunner(&fakeResolver{}, &fakeDialer{}, testCreds)

	_, err := r.Run(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestCommandRunnerLocalShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	resolver := &fakeResolver{err: errors.New("offline")}
	r := NewCommandRunner(resolver, &fakeDialer{}, testCreds)

	line, err := r.Run(context.Background(), "echo first; echo last")
	require.NoError(t, err)
	assert.Equal(t, "last", line)
}
