package commands

import (
	"encoding/json"
	"strconv"

	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/pkg/offload"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <file.go> <function> [args...]",
	Short: "Run a function from a Go file on the worker",
	Long: `Build a capsule for a top-level function of a Go file and run it on the
worker. When the worker cannot be used the capsule runs with the local Go
toolchain instead.

Arguments are JSON values decoded into the function's parameter types.
Words that are not valid JSON are passed as strings.

Examples:
  # Call square(12) from main.go
  offload run main.go square 12

  # Pass a struct and a string
  offload run main.go render '{"width": 80}' title

  # Print the outcome as JSON
  offload run main.go square 12 -o json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

type runResult struct {
	CallID   string          `json:"call_id" yaml:"call_id"`
	Unit     string          `json:"unit" yaml:"unit"`
	Source   string          `json:"source" yaml:"source"`
	Host     string          `json:"host,omitempty" yaml:"host,omitempty"`
	ExitCode int             `json:"exit_code" yaml:"exit_code"`
	Result   json.RawMessage `json:"result,omitempty" yaml:"-"`
	Text     string          `json:"-" yaml:"result,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sess, err := cmdutil.NewSession(ctx, nil, offload.WithOutput(cmdutil.StreamWriter()))
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.BindEntryFile(args[0]); err != nil {
		return err
	}
	prog, err := sess.Builder().BuildSource(args[1], cmdutil.ParseArgs(args[2:]))
	if err != nil {
		return err
	}

	out, err := sess.Execute(ctx, prog)
	if err != nil {
		return err
	}

	result := runResult{
		CallID:   out.CallID,
		Unit:     prog.Unit,
		Source:   string(out.Source),
		Host:     out.Host,
		ExitCode: out.ExitCode,
		Result:   out.Payload,
		Text:     out.Text(),
	}
	if err := cmdutil.PrintResource(cmd.OutOrStdout(), result, [][2]string{
		{"Call ID", result.CallID},
		{"Unit", result.Unit},
		{"Ran on", result.Source},
		{"Worker", cmdutil.ValueOrDash(result.Host)},
		{"Exit code", strconv.Itoa(result.ExitCode)},
		{"Result", cmdutil.ValueOrDash(result.Text)},
	}); err != nil {
		return err
	}

	if out.ExitCode != 0 {
		return &cmdutil.ExitError{Code: out.ExitCode}
	}
	return nil
}
