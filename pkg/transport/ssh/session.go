package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/transport"
)

// drainTimeout bounds how long a killed command may keep its channel open.
const drainTimeout = 2 * time.Second

// Session is an SSH connection to one worker. The SFTP subsystem is opened
// on first use.
type Session struct {
	addr   string
	client *gossh.Client

	mu     sync.Mutex
	sftp   *sftp.Client
	closed bool
}

var _ transport.Session = (*Session)(nil)

// Addr implements transport.Session.
func (s *Session) Addr() string { return s.addr }

// Run implements transport.Session.
func (s *Session) Run(ctx context.Context, command string, opts transport.RunOptions) (*transport.Result, error) {
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, transport.NewError("run", s.addr, err)
	}
	defer func() { _ = sess.Close() }()

	if opts.Pty {
		modes := gossh.TerminalModes{gossh.ECHO: 0}
		if err := sess.RequestPty("xterm", 40, 120, modes); err != nil {
			return nil, transport.NewError("run", s.addr, fmt.Errorf("request pty: %w", err))
		}
	}

	pr, pw := io.Pipe()
	sess.Stdout = pw
	switch {
	case opts.CombineStderr:
		sess.Stderr = pw
	case opts.Output != nil:
		sess.Stderr = opts.Output
	}

	type copied struct {
		lines []string
		err   error
	}
	done := make(chan copied, 1)
	go func() {
		lines, err := transport.CopyLines(pr, opts)
		_, _ = io.Copy(io.Discard, pr)
		done <- copied{lines: lines, err: err}
	}()

	logger.Debug("Running remote command", logger.KeyHost, s.addr, logger.KeyCommand, command)

	if err := sess.Start(command); err != nil {
		_ = pw.Close()
		<-done
		return nil, transport.NewError("run", s.addr, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- sess.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		_ = sess.Signal(gossh.SIGKILL)
		_ = sess.Close()
		select {
		case <-waitCh:
		case <-time.After(drainTimeout):
		}
		_ = pw.Close()
		out := <-done
		logger.Warn("Remote command interrupted", logger.KeyHost, s.addr, logger.KeyError, ctx.Err().Error())
		return &transport.Result{ExitCode: transport.UnknownExitCode, Lines: out.lines}, ctx.Err()
	}

	_ = pw.Close()
	out := <-done
	result := &transport.Result{Lines: out.lines}

	var exitErr *gossh.ExitError
	var missingErr *gossh.ExitMissingError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case errors.As(waitErr, &missingErr):
		result.ExitCode = transport.UnknownExitCode
	default:
		result.ExitCode = transport.UnknownExitCode
		return result, transport.NewError("run", s.addr, waitErr)
	}

	if out.err != nil {
		return result, transport.NewError("run", s.addr, fmt.Errorf("read output: %w", out.err))
	}
	return result, nil
}

// Upload implements transport.Session.
func (s *Session) Upload(ctx context.Context, r io.Reader, remotePath string) error {
	client, err := s.sftpClient()
	if err != nil {
		return transport.NewError("upload", s.addr, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return transport.NewError("upload", s.addr, fmt.Errorf("mkdir %s: %w", dir, err))
		}
	}

	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return transport.NewError("upload", s.addr, fmt.Errorf("open %s: %w", remotePath, err))
	}

	n, err := f.ReadFrom(r)
	if err != nil {
		_ = f.Close()
		return transport.NewError("upload", s.addr, fmt.Errorf("write %s: %w", remotePath, err))
	}
	if err := f.Close(); err != nil {
		return transport.NewError("upload", s.addr, fmt.Errorf("close %s: %w", remotePath, err))
	}

	logger.Debug("Uploaded file", logger.KeyHost, s.addr, logger.KeyPath, remotePath, logger.KeyBytes, n)
	return nil
}

// Remove implements transport.Session.
func (s *Session) Remove(ctx context.Context, remotePath string) error {
	client, err := s.sftpClient()
	if err != nil {
		return transport.NewError("remove", s.addr, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return transport.NewError("remove", s.addr, client.Remove(remotePath))
}

// Close implements transport.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true

	var errs []error
	if s.sftp != nil {
		errs = append(errs, s.sftp.Close())
	}
	errs = append(errs, s.client.Close())
	return errors.Join(errs...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, transport.ErrClosed
	}
	if s.sftp == nil {
		c, err := sftp.NewClient(s.client)
		if err != nil {
			return nil, fmt.Errorf("start sftp subsystem: %w", err)
		}
		s.sftp = c
	}
	return s.sftp, nil
}
