package config

import (
	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/internal/cli/output"
	"github.com/spf13/cobra"
)

const redacted = "********"

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective offload configuration: the file, OFFLOAD_*
environment variables and defaults combined. Secrets are redacted.

By default outputs YAML format. Use --output json for JSON.

Examples:
  # Show effective config as YAML
  offload config show

  # Show as JSON
  offload config show --output json

  # Show specific config file
  offload config show --config ./offload.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	shown := *cfg
	if shown.Credentials.Password != "" {
		shown.Credentials.Password = redacted
	}
	if shown.Credentials.KeyPassphrase != "" {
		shown.Credentials.KeyPassphrase = redacted
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.Encode(cmd.OutOrStdout(), format, shown)
}
