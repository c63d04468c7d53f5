// Package capsule implements capsule subcommands.
package capsule

import (
	"github.com/spf13/cobra"
)

// Cmd is the capsule subcommand.
var Cmd = &cobra.Command{
	Use:   "capsule",
	Short: "Capsule generation",
	Long: `Generate the standalone Go programs that offload ships to the worker.

Subcommands:
  build  Generate the capsule for a function of a Go file`,
}

func init() {
	Cmd.AddCommand(buildCmd)
}
