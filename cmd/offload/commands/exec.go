package commands

import (
	"regexp"
	"strings"
	"time"

	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/pkg/config"
	"github.com/marmos91/offload/pkg/offload"
	"github.com/spf13/cobra"
)

var (
	execPty     bool
	execTimeout time.Duration
)

var execCmd = &cobra.Command{
	Use:   "exec -- <command> [args...]",
	Short: "Run a shell command on the worker",
	Long: `Run a shell command on the worker and print its output.

When no worker can be reached the command runs in the local shell instead.
The last output line is the command's result.

A single argument is handed to the shell as is, so pipes and globs work.
Several arguments are quoted one by one and keep their boundaries.

Examples:
  # Check the worker's architecture
  offload exec -- uname -m

  # Use shell syntax on the worker
  offload exec -- 'dmesg | tail -n 5'

  # Run with a pseudo-terminal and a time limit
  offload exec --pty --timeout 30s -- top -bn1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().BoolVar(&execPty, "pty", false, "Allocate a pseudo-terminal (default: dispatch.pty)")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "Command time limit (default: dispatch.exec_timeout)")
}

type execResult struct {
	Command  string `json:"command" yaml:"command"`
	LastLine string `json:"last_line" yaml:"last_line"`
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sess, err := cmdutil.NewSession(ctx, func(cfg *config.Config) {
		if cmd.Flags().Changed("pty") {
			cfg.Dispatch.Pty = execPty
		}
		if execTimeout > 0 {
			cfg.Dispatch.ExecTimeout = execTimeout
		}
	}, offload.WithOutput(cmdutil.StreamWriter()))
	if err != nil {
		return err
	}
	defer sess.Close()

	command := shellCommand(args)
	last, err := sess.Run(ctx, command)
	if err != nil {
		return err
	}

	// Output was already streamed in table mode
	if cmdutil.IsTableFormat() {
		return nil
	}
	return cmdutil.PrintResource(cmd.OutOrStdout(), execResult{Command: command, LastLine: last}, nil)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellCommand turns exec's arguments into one shell command line. A lone
// argument is the command line itself; otherwise every argument that is not
// a plain word is single-quoted.
func shellCommand(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
