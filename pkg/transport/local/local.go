// Package local implements transport.Session against the local OS shell and
// filesystem. It is the execution target for ad hoc commands and prebuilt
// capsules when no worker can be used.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/transport"
)

// Addr is the address reported by local sessions.
const Addr = "localhost"

// waitDelay bounds how long Run waits for output pipes after the shell has
// exited or been killed.
const waitDelay = 2 * time.Second

// Dialer opens local sessions. Credentials are ignored.
type Dialer struct {
	// Dir is the working directory for commands. Empty uses the current one.
	Dir string

	// Env is appended to the current environment for every command.
	Env []string
}

// Dial returns a new local Session.
func (d *Dialer) Dial(ctx context.Context, _ string, _ transport.Credentials) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Session{dir: d.Dir, env: d.Env}, nil
}

// NewSession returns a Session running commands in dir.
func NewSession(dir string) *Session {
	return &Session{dir: dir}
}

// Session runs commands through sh -c (cmd /C on Windows).
type Session struct {
	dir    string
	env    []string
	closed atomic.Bool
}

var _ transport.Session = (*Session)(nil)

// Addr implements transport.Session.
func (s *Session) Addr() string { return Addr }

// Shell returns the program and arguments used to run command.
func Shell(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

// Run implements transport.Session.
func (s *Session) Run(ctx context.Context, command string, opts transport.RunOptions) (*transport.Result, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	name, args := Shell(command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = s.dir
	cmd.WaitDelay = waitDelay
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	switch {
	case opts.CombineStderr:
		cmd.Stderr = pw
	case opts.Output != nil:
		cmd.Stderr = opts.Output
	}

	logger.Debug("Running local command", logger.KeyCommand, command)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, transport.NewError("run", Addr, err)
	}

	type copied struct {
		lines []string
		err   error
	}
	done := make(chan copied, 1)
	go func() {
		lines, err := transport.CopyLines(pr, opts)
		// Keep draining so the command never blocks on a full pipe
		_, _ = io.Copy(io.Discard, pr)
		done <- copied{lines: lines, err: err}
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	out := <-done

	result := &transport.Result{Lines: out.lines}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = transport.UnknownExitCode
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = transport.UnknownExitCode
		return result, transport.NewError("run", Addr, waitErr)
	}

	if out.err != nil {
		return result, transport.NewError("run", Addr, fmt.Errorf("read output: %w", out.err))
	}

	return result, nil
}

// Upload implements transport.Session.
func (s *Session) Upload(ctx context.Context, r io.Reader, path string) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path = s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return transport.NewError("upload", Addr, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return transport.NewError("upload", Addr, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return transport.NewError("upload", Addr, err)
	}
	return transport.NewError("upload", Addr, f.Close())
}

// Remove implements transport.Session.
func (s *Session) Remove(ctx context.Context, path string) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return transport.NewError("remove", Addr, os.Remove(s.resolve(path)))
}

// Close implements transport.Session.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return transport.ErrClosed
	}
	return nil
}

func (s *Session) resolve(path string) string {
	if filepath.IsAbs(path) || s.dir == "" {
		return path
	}
	return filepath.Join(s.dir, path)
}
