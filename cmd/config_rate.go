package cmd

import "github.com/spf13/cobra"

var configRateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Manage project rate rules in config.",
	Long: `Manage rate rules stored under config key rates.rules.

A rule maps a project label (exact, prefix or glob match) to an hourly rate and
optionally to a FreshBooks client and service.`,
}

func init() {
	configCmd.AddCommand(configRateCmd)
}
