package commands

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for offload.

To load completions:

Bash:
  $ offload completion bash > /etc/bash_completion.d/offload

Zsh:
  $ offload completion zsh > "${fpath[1]}/_offload"

Fish:
  $ offload completion fish > ~/.config/fish/completions/offload.fish

PowerShell:
  PS> offload completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(w)
		case "zsh":
			return cmd.Root().GenZshCompletion(w)
		case "fish":
			return cmd.Root().GenFishCompletion(w, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(w)
		}
		return nil
	},
}
