package cmd

import "github.com/spf13/cobra"

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate against FreshBooks and check stored credentials.",
	Long: `Authentication helpers for the FreshBooks OAuth2 login and the Timeular API key.

Use "auth login" to authorize timebill in the browser and store the FreshBooks token.
Use "auth status" to check the credentials of both services.`,
}

func init() {
	rootCmd.AddCommand(authCmd)
}
