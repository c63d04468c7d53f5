package config

import (
	"fmt"

	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the offload configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  offload config validate

  # Validate specific config file
  offload config validate --config ./offload.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath := cmdutil.Flags.ConfigFile

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string

	if cfg.Credentials.Password != "" {
		warnings = append(warnings, "Password stored in the configuration file - prefer --ask-password or a key")
	}
	if cfg.Worker.KnownHosts == "" {
		warnings = append(warnings, "worker.known_hosts not set - host keys are not verified")
	}
	if cfg.Capsule.EntryFile == "" {
		warnings = append(warnings, "capsule.entry_file not set - bind it from code before dispatching")
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(w, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, msg := range warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", msg)
		}
	}

	_, _ = fmt.Fprintf(w, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(w, "  Worker range:    %s0-%d\n", cfg.Worker.BaseAddress, cfg.Worker.MaxCandidates-1)
	_, _ = fmt.Fprintf(w, "  SSH user:        %s\n", cfg.Credentials.Username)
	_, _ = fmt.Fprintf(w, "  Authentication:  %s\n", cfg.Credentials.TransportCredentials().Method())
	_, _ = fmt.Fprintf(w, "  On exhaustion:   %s\n", cfg.Dispatch.OnDiscoveryExhausted)
	_, _ = fmt.Fprintf(w, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
