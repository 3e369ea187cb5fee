/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"timebill/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// exitError carries a process exit code through cobra without printing usage.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "timebill",
	Short: "Sync tracked time from Timeular or CSV/Excel exports into FreshBooks.",
	Long: `
**********************************************
*                 TIMEBILL                   *
**********************************************

This CLI fetches time entries from the Timeular API or from CSV/Excel exports,
prices them with the configured project rates, and submits them as FreshBooks
time entries. A local SQLite ledger records every submitted entry, so re-running
a sync never bills the same entry twice.

Supported sources:
- Timeular API (TIMEULAR_API_KEY, TIMEULAR_API_SECRET)
- Excel: .xlsx, .xlsm
- CSV: .csv
`,
	Example: `
  # Create configuration file
  timebill config create

  # Add a project rate interactively
  timebill config rate add

  # Log in to FreshBooks once
  timebill auth login

  # Preview what would be submitted from Timeular for the last 7 days
  timebill sync --source timeular --days-back 7 --dry-run

  # Sync a CSV export without confirmation
  timebill sync --input ./timeular-export.csv --yes

  # Write the summary report for March
  timebill report --input ./timeular-export.csv --from 2026-03-01 --to 2026-03-31 -o ./march.xlsx

  # Show what the ledger recorded
  timebill ledger list --status failed
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	os.Exit(1)
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.timebill.yaml, then ./.timebill.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file with API secrets (default: .env next to the config file, then ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: trace, debug, info, warn, error")
	cobra.CheckErr(viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level")))
}

// initConfig reads in config file, the scoped env file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".timebill" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".timebill")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Create one first with: timebill config create")
	}

	cobra.CheckErr(loadEnvFile(envFile, viper.ConfigFileUsed()))
}

// loadEnvFile sources secrets from the scoped env file. Variables that are
// already set in the environment win.
func loadEnvFile(explicitPath, configFileUsed string) error {
	path, explicit := resolveEnvFilePath(explicitPath, configFileUsed)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func resolveEnvFilePath(explicitPath, configFileUsed string) (string, bool) {
	if strings.TrimSpace(explicitPath) != "" {
		return strings.TrimSpace(explicitPath), true
	}
	if strings.TrimSpace(configFileUsed) != "" {
		candidate := filepath.Join(filepath.Dir(configFileUsed), ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, false
		}
	}
	return ".env", false
}
