package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/internal/cli/output"
	"github.com/marmos91/offload/pkg/config"
	"github.com/marmos91/offload/pkg/discovery"
	"github.com/spf13/cobra"
)

var (
	discoverBase       string
	discoverCandidates int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find the worker on the local network",
	Long: `Probe candidate addresses until one accepts an SSH login and runs the
probe command.

Candidates are the base address followed by 0, 1, 2, ... up to
worker.max_candidates. The first one that answers is the worker.

Examples:
  # Probe the configured range
  offload discover

  # Probe another range
  offload discover --base 10.0.0. --candidates 32`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverBase, "base", "", "Base address (default: worker.base_address)")
	discoverCmd.Flags().IntVar(&discoverCandidates, "candidates", 0, "Number of candidates (default: worker.max_candidates)")
}

type discoverResult struct {
	Base      string `json:"base" yaml:"base"`
	Host      string `json:"host" yaml:"host"`
	ElapsedMs int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

type probeFailures []discovery.ProbeFailure

func (f probeFailures) Headers() []string {
	return []string{"Candidate", "Error"}
}

func (f probeFailures) Rows() [][]string {
	rows := make([][]string, 0, len(f))
	for _, failure := range f {
		rows = append(rows, []string{failure.Candidate, failure.Err.Error()})
	}
	return rows
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sess, err := cmdutil.NewSession(ctx, func(cfg *config.Config) {
		if discoverBase != "" {
			cfg.Worker.BaseAddress = discoverBase
		}
		if discoverCandidates > 0 {
			cfg.Worker.MaxCandidates = discoverCandidates
		}
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	base := sess.Config().Worker.BaseAddress
	start := time.Now()
	host, err := sess.Discover(ctx)
	if err != nil {
		var exhausted *discovery.ExhaustedError
		if errors.As(err, &exhausted) && cmdutil.IsTableFormat() {
			_ = output.PrintTable(cmd.ErrOrStderr(), probeFailures(exhausted.Failures))
			return fmt.Errorf("no worker found among %d candidates for base %q", exhausted.Attempts, exhausted.Base)
		}
		return err
	}

	result := discoverResult{
		Base:      base,
		Host:      host,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	return cmdutil.PrintResource(cmd.OutOrStdout(), result, [][2]string{
		{"Base", result.Base},
		{"Worker", result.Host},
		{"Elapsed", time.Duration(result.ElapsedMs * int64(time.Millisecond)).String()},
	})
}
