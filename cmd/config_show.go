package cmd

import (
	"fmt"
	"io"
	"strings"

	"timebill/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show active configuration values.",
	Long: `Display the currently loaded configuration and the resolved config file path.

This command validates the configuration before printing values. Secrets are only
reported as set or missing.`,
	Example: `
  # Show active configuration
  timebill config show
`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		cfg, err := config.LoadAndValidate()
		if err != nil {
			fmt.Fprintln(out, "Invalid config:", err)
			return
		}

		if configPath := viper.ConfigFileUsed(); configPath != "" {
			fmt.Fprintln(out, "Config file loaded from:", configPath)
			fmt.Fprintln(out, "Configuration:")
			printConfig(out, cfg)
		}
	},
}

func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "timeular.base_url: %s\n", cfg.Timeular.BaseURL)
	fmt.Fprintf(out, "timeular.api_key: %s\n", secretState(cfg.Timeular.APIKey))
	fmt.Fprintf(out, "timeular.api_secret: %s\n", secretState(cfg.Timeular.APISecret))
	fmt.Fprintf(out, "freshbooks.base_url: %s\n", cfg.FreshBooks.BaseURL)
	fmt.Fprintf(out, "freshbooks.redirect_url: %s\n", cfg.FreshBooks.RedirectURL)
	fmt.Fprintf(out, "freshbooks.client_id: %s\n", secretState(cfg.FreshBooks.ClientID))
	fmt.Fprintf(out, "freshbooks.client_secret: %s\n", secretState(cfg.FreshBooks.ClientSecret))
	fmt.Fprintf(out, "freshbooks.business_id: %s\n", valueOrDash(cfg.FreshBooks.BusinessID))
	fmt.Fprintf(out, "freshbooks.account_id: %s\n", valueOrDash(cfg.FreshBooks.AccountID))
	fmt.Fprintf(out, "freshbooks.token_file: %s\n", valueOrDash(cfg.FreshBooks.TokenFile))
	fmt.Fprintf(out, "source.kind: %s\n", valueOrDash(cfg.Source.Kind))
	fmt.Fprintf(out, "source.path: %s\n", valueOrDash(cfg.Source.Path))
	fmt.Fprintf(out, "source.days_back: %d\n", cfg.Source.DaysBack)
	fmt.Fprintf(out, "source.timeular.window: %s\n", cfg.Source.Timeular.Window)
	fmt.Fprintf(out, "source.csv.duration_unit: %s\n", cfg.Source.CSV.DurationUnit)
	fmt.Fprintf(out, "rates.currency: %s\n", cfg.Rates.Currency)
	fmt.Fprintf(out, "rates.default: %s\n", valueOrDash(cfg.Rates.Default))
	fmt.Fprintf(out, "rates.rules: %d\n", len(cfg.Rates.Rules))
	for i, rule := range cfg.Rates.Rules {
		match := rule.Match
		if strings.TrimSpace(match) == "" {
			match = "exact (default)"
		}
		fmt.Fprintf(out, "rates.rules[%d].name: %s\n", i, valueOrDash(rule.Name))
		fmt.Fprintf(out, "rates.rules[%d].project: %s\n", i, rule.Project)
		fmt.Fprintf(out, "rates.rules[%d].match: %s\n", i, match)
		fmt.Fprintf(out, "rates.rules[%d].rate: %s\n", i, rule.Rate)
		if rule.Currency != "" {
			fmt.Fprintf(out, "rates.rules[%d].currency: %s\n", i, rule.Currency)
		}
		if rule.Client != "" {
			fmt.Fprintf(out, "rates.rules[%d].client: %s\n", i, rule.Client)
		}
		if rule.ClientID != "" {
			fmt.Fprintf(out, "rates.rules[%d].client_id: %s\n", i, rule.ClientID)
		}
		if rule.ProjectID != "" {
			fmt.Fprintf(out, "rates.rules[%d].project_id: %s\n", i, rule.ProjectID)
		}
		if rule.ServiceID != "" {
			fmt.Fprintf(out, "rates.rules[%d].service_id: %s\n", i, rule.ServiceID)
		}
	}
	fmt.Fprintf(out, "rounding.increment: %s\n", cfg.Rounding.Increment)
	fmt.Fprintf(out, "rounding.mode: %s\n", cfg.Rounding.Mode)
	fmt.Fprintf(out, "sync.workers: %d\n", cfg.Sync.Workers)
	fmt.Fprintf(out, "sync.max_attempts: %d\n", cfg.Sync.MaxAttempts)
	fmt.Fprintf(out, "sync.initial_backoff: %s\n", cfg.Sync.InitialBackoff)
	fmt.Fprintf(out, "sync.max_backoff: %s\n", cfg.Sync.MaxBackoff)
	fmt.Fprintf(out, "sync.request_timeout: %s\n", cfg.Sync.RequestTimeout)
	fmt.Fprintf(out, "sync.claim_lease: %s\n", cfg.Sync.ClaimLease)
	fmt.Fprintf(out, "sync.reconcile: %s\n", cfg.Sync.Reconcile)
	fmt.Fprintf(out, "sync.ledger_path: %s\n", cfg.Sync.LedgerPath)
	fmt.Fprintf(out, "log.level: %s\n", cfg.Log.Level)
	fmt.Fprintf(out, "log.format: %s\n", cfg.Log.Format)
	fmt.Fprintf(out, "metrics.textfile: %s\n", valueOrDash(cfg.Metrics.Textfile))
}

func secretState(value string) string {
	if strings.TrimSpace(value) == "" {
		return "missing"
	}
	return "set"
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
