package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage timebill configuration file values.",
	Long: `Create, edit, display, and delete the timebill configuration file.

The configuration stores non-secret settings:
- timeular.base_url, freshbooks.base_url / redirect_url / token_file
- source.kind / path / days_back / timeular.window / csv.duration_unit
- rates.currency / default / rules[].project+match+rate (+client, client_id, service_id)
- rounding.increment / mode
- sync.workers / max_attempts / initial_backoff / max_backoff / ledger_path
- log.level / format, metrics.textfile

Secrets (API keys, OAuth client credentials) belong in the .env file next to the config.`,
	Example: `
  # Create default config in $HOME/.timebill.yaml
  timebill config create

  # Show active config and source file
  timebill config show

  # Open active config in editor (creates example if missing)
  timebill config edit

  # Add one rate rule interactively
  timebill config rate add

  # Delete active config file
  timebill config delete
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
