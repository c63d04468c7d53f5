// Package cmdutil provides shared utilities for offload commands.
package cmdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/offload/internal/cli/output"
	"github.com/marmos91/offload/internal/cli/prompt"
	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/config"
	"github.com/marmos91/offload/pkg/offload"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile  string
	Output      string
	NoColor     bool
	Verbose     bool
	AskPassword bool
}

// Version is the build version reported to tracing and profiling.
var Version = "dev"

// LoadConfig loads the configuration selected by --config. A missing
// default file is not an error: defaults and OFFLOAD_* variables apply.
func LoadConfig() (*config.Config, error) {
	if Flags.ConfigFile != "" {
		return config.MustLoad(Flags.ConfigFile)
	}
	return config.Load("")
}

// Session is an initialized ambient stack plus the Offloader built on it.
type Session struct {
	*offload.Offloader
	shutdown func(context.Context) error
}

// Close flushes telemetry and stops the metrics server.
func (s *Session) Close() {
	if err := s.shutdown(context.Background()); err != nil {
		logger.Warn("Shutdown failed", logger.Err(err))
	}
}

// NewSession loads the configuration, applies cfgOverride when non-nil,
// initializes logging, telemetry and metrics, and builds the Offloader.
// With --ask-password the worker password is read from the terminal.
func NewSession(ctx context.Context, cfgOverride func(*config.Config), opts ...offload.Option) (*Session, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfgOverride != nil {
		cfgOverride(cfg)
	}

	if Flags.AskPassword {
		password, err := prompt.Password(cfg.Credentials.Username, cfg.Worker.BaseAddress+"*")
		if err != nil {
			return nil, err
		}
		cfg.Credentials.Password = password
		cfg.Credentials.KeyPath = ""
		cfg.Credentials.KeyPassphrase = ""
	}

	shutdown, err := offload.Setup(ctx, cfg, Version)
	if err != nil {
		return nil, err
	}
	if Flags.Verbose {
		logger.SetLevel("DEBUG")
	}

	o, err := offload.New(cfg, opts...)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	return &Session{Offloader: o, shutdown: shutdown}, nil
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsTableFormat reports whether results are rendered for humans.
func IsTableFormat() bool {
	format, err := GetOutputFormatParsed()
	return err == nil && format == output.FormatTable
}

// StreamWriter returns where live command output goes. It is stdout for
// table output and stderr otherwise, so JSON and YAML stay parseable.
func StreamWriter() io.Writer {
	if IsTableFormat() {
		return os.Stdout
	}
	return os.Stderr
}

// NewPrinter returns a printer for the selected output format.
func NewPrinter() (*output.Printer, error) {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return nil, err
	}
	return output.DefaultPrinter(format, !Flags.NoColor), nil
}

// PrintResource prints a resource in the selected format.
// For table format the pairs are printed as a key/value view.
func PrintResource(w io.Writer, data any, pairs [][2]string) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	if format == output.FormatTable {
		return output.PrintKeyValues(w, pairs)
	}
	return output.Encode(w, format, data)
}

// ParseArgs converts positional arguments to JSON values. A word that is
// not valid JSON is taken as a string, so `offload run main.go greet bob`
// works without quoting.
func ParseArgs(args []string) []json.RawMessage {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		if json.Valid([]byte(arg)) {
			raw = append(raw, json.RawMessage(arg))
			continue
		}
		quoted, _ := json.Marshal(arg)
		raw = append(raw, quoted)
	}
	return raw
}

// ValueOrDash returns s, or "-" when s is empty.
func ValueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ExitError reports a remote program that finished with a non-zero status.
// main exits with the same status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("program exited with status %d", e.Code)
}
