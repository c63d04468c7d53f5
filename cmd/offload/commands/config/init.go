package config

import (
	"fmt"

	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample offload configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/offload/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  offload config init

  # Initialize with custom path
  offload config init --config ./offload.yaml

  # Force overwrite existing config
  offload config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := cmdutil.Flags.ConfigFile

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(w, "\nNext steps:")
	_, _ = fmt.Fprintln(w, "  1. Set worker.base_address and credentials.username for your network")
	_, _ = fmt.Fprintln(w, "  2. Check that the worker is found with: offload discover")
	_, _ = fmt.Fprintf(w, "  3. Or specify custom config: offload discover --config %s\n", configPath)
	_, _ = fmt.Fprintln(w, "\nSecurity note:")
	_, _ = fmt.Fprintln(w, "  Prefer key or agent authentication. To use a password without storing it,")
	_, _ = fmt.Fprintf(w, "  pass --ask-password or export %s_CREDENTIALS_PASSWORD.\n", config.EnvPrefix)

	return nil
}
