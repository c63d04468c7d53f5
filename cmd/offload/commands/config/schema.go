package config

import (
	"fmt"
	"os"

	"github.com/marmos91/offload/pkg/config"
	"github.com/spf13/cobra"
)

var schemaFile string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the offload configuration file.

The schema can be used for:
  - IDE autocompletion (VS Code, IntelliJ, etc.)
  - Configuration file validation

Examples:
  # Print schema to stdout
  offload config schema

  # Save schema to file
  offload config schema --file config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaFile, "file", "f", "", "Output file (default: stdout)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := config.Schema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaFile != "" {
		if err := os.WriteFile(schemaFile, schemaJSON, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaFile)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
