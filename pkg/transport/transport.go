package transport

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// UnknownExitCode is reported when a command was interrupted before the
// worker produced an exit status.
const UnknownExitCode = -1

// Dialer opens authenticated sessions.
type Dialer interface {
	// Dial connects to addr (host or host:port) and authenticates with creds.
	// Authentication failures wrap ErrAuthenticationFailed, connection
	// failures wrap ErrUnreachable.
	Dial(ctx context.Context, addr string, creds Credentials) (Session, error)
}

// Session is an open, authenticated connection to a worker.
type Session interface {
	// Addr returns the address the session is connected to.
	Addr() string

	// Run executes command through the worker's shell.
	// A non-zero exit status is reported in Result.ExitCode, not as an error.
	// On context cancellation or timeout the command is killed and the
	// result carries UnknownExitCode along with the context error.
	Run(ctx context.Context, command string, opts RunOptions) (*Result, error)

	// Upload writes the contents of r to path, creating or truncating it.
	Upload(ctx context.Context, r io.Reader, path string) error

	// Remove deletes path.
	Remove(ctx context.Context, path string) error

	// Close releases the session. Further calls return ErrClosed.
	Close() error
}

// RunOptions controls how a command's output is handled.
type RunOptions struct {
	// Output receives output lines for display. Nil discards them.
	Output io.Writer

	// Filter hides lines from Output when it returns false. Captured lines
	// are never filtered.
	Filter func(line string) bool

	// Capture keeps every output line in Result.Lines.
	Capture bool

	// CombineStderr merges stderr into the captured/displayed stream.
	// Otherwise stderr is copied to Output unfiltered and never captured.
	CombineStderr bool

	// Pty requests a pseudo-terminal. Only meaningful for remote sessions.
	Pty bool

	// Timeout bounds the command run. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is the outcome of a Run.
type Result struct {
	// ExitCode is the process exit status, or UnknownExitCode.
	ExitCode int

	// Lines holds the captured output lines without trailing newlines.
	Lines []string
}

// LastLine returns the last non-empty captured line.
func (r *Result) LastLine() string {
	if r == nil {
		return ""
	}
	for i := len(r.Lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(r.Lines[i]) != "" {
			return r.Lines[i]
		}
	}
	return ""
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// CopyLines reads src line by line until EOF, writing displayable lines to
// opts.Output and returning the captured lines when opts.Capture is set.
// Both transports feed their command output through it.
func CopyLines(src io.Reader, opts RunOptions) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if opts.Capture {
			lines = append(lines, line)
		}
		if opts.Output != nil && (opts.Filter == nil || opts.Filter(line)) {
			if _, err := io.WriteString(opts.Output, line+"\n"); err != nil {
				return lines, err
			}
		}
	}

	return lines, scanner.Err()
}
