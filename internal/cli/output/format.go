// Package output renders CLI command results as tables, JSON, or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	// FormatTable outputs data in a formatted table.
	FormatTable Format = "table"
	// FormatJSON outputs data as JSON.
	FormatJSON Format = "json"
	// FormatYAML outputs data as YAML.
	FormatYAML Format = "yaml"
)

// Formats lists the accepted --output values.
var Formats = []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: %s)", s, strings.Join(Formats, ", "))
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes command results in the selected format. Status lines
// (Success, Warning, Error) always go to the status writer so that machine
// readable output on the main writer stays parseable.
type Printer struct {
	out    io.Writer
	status io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer writing results and status lines to out.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{
		out:    out,
		status: out,
		format: format,
		color:  color,
	}
}

// DefaultPrinter writes results to stdout and status lines to stderr.
func DefaultPrinter(format Format, color bool) *Printer {
	p := NewPrinter(os.Stdout, format, color)
	p.status = os.Stderr
	return p
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// Writer returns the printer's output writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Print outputs data in the configured format.
// In table format data must implement TableRenderer, otherwise it is
// printed as JSON.
func (p *Printer) Print(data any) error {
	if p.format != FormatTable {
		return Encode(p.out, p.format, data)
	}
	if renderer, ok := data.(TableRenderer); ok {
		return PrintTable(p.out, renderer)
	}
	return Encode(p.out, FormatJSON, data)
}

// Println prints a message followed by a newline.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

// Success prints a green status line.
func (p *Printer) Success(msg string) {
	p.statusLine("\033[32m", msg)
}

// Warning prints a yellow status line.
func (p *Printer) Warning(msg string) {
	p.statusLine("\033[33m", msg)
}

// Error prints a red status line.
func (p *Printer) Error(msg string) {
	p.statusLine("\033[31m", msg)
}

func (p *Printer) statusLine(color, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.status, "%s%s\033[0m\n", color, msg)
		return
	}
	_, _ = fmt.Fprintln(p.status, msg)
}
