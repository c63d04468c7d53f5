package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the offload version, build information, and system details.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		if versionShort {
			_, _ = fmt.Fprintln(w, Version)
			return
		}

		_, _ = fmt.Fprintf(w, "offload %s\n", Version)
		_, _ = fmt.Fprintf(w, "  Commit:     %s\n", Commit)
		_, _ = fmt.Fprintf(w, "  Built:      %s\n", Date)
		_, _ = fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
		_, _ = fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only version number")
}
