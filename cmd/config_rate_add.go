package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"timebill/config"
	"timebill/freshbooks"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	configRateAddTimeout time.Duration
	configRateAddOffline bool
)

var configRateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Interactively add one rate rule.",
	Long: `Ask for a project label, match mode and hourly rate, optionally let you choose the
FreshBooks client and service from your account, then store a new rates.rules entry.

Without FreshBooks credentials (or with --offline) the client is entered by name and
resolved at sync time.`,
	Example: `
  # Add one rule with FreshBooks client/service lookup
  timebill config rate add

  # Add one rule without contacting FreshBooks
  timebill config rate add --offline
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := activeConfigPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}

		_, err = writeTemplateIfMissing(configPath)
		if err != nil {
			return err
		}

		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %q: %w", configPath, err)
		}
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		var directory rateDirectory
		if !configRateAddOffline && cfg.RequireFreshBooks() == nil {
			store, err := newCredentialStore(cfg, nil)
			if err != nil {
				return err
			}
			client, err := newFreshBooksClient(cfg, store, zerolog.Nop())
			if err != nil {
				return err
			}
			directory = client
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), configRateAddTimeout)
		defer cancel()

		rule, err := promptRateRule(ctx, reader, out, cfg.Rates.Currency, directory)
		if err != nil {
			return err
		}

		current, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}

		updated, err := appendRateRuleToConfigYAML(current, rule)
		if err != nil {
			return err
		}

		if err := os.WriteFile(configPath, updated, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		fmt.Fprintln(out, "Rate rule added successfully.")
		fmt.Fprintf(out, "Config:   %s\n", configPath)
		fmt.Fprintf(out, "Name:     %s\n", rule.Name)
		fmt.Fprintf(out, "Project:  %s (match=%s)\n", rule.Project, rule.Match)
		fmt.Fprintf(out, "Rate:     %s %s/h\n", rule.Rate, rule.Currency)
		if rule.Client != "" || rule.ClientID != "" {
			fmt.Fprintf(out, "Client:   %s (id=%s)\n", valueOrDash(rule.Client), valueOrDash(rule.ClientID))
		}
		if rule.ServiceID != "" {
			fmt.Fprintf(out, "Service:  id=%s\n", rule.ServiceID)
		}
		return nil
	},
}

// rateDirectory lists the FreshBooks clients and services offered for selection.
type rateDirectory interface {
	ListClients(ctx context.Context) ([]freshbooks.ClientRecord, error)
	ListServices(ctx context.Context) ([]freshbooks.Service, error)
}

var rateMatchModes = []string{"exact", "prefix", "glob"}

func promptRateRule(ctx context.Context, reader *bufio.Reader, out io.Writer, defaultCurrency string, directory rateDirectory) (config.RateRule, error) {
	rule := config.RateRule{}

	project, err := promptRequiredString(reader, out, "Project label (as in the source)")
	if err != nil {
		return rule, err
	}
	rule.Project = project

	matchIdx, err := promptSelectIndex(reader, out, "Match mode:", rateMatchModes)
	if err != nil {
		return rule, err
	}
	rule.Match = rateMatchModes[matchIdx]

	for {
		rate, err := promptRequiredString(reader, out, "Hourly rate (example: 95.00)")
		if err != nil {
			return rule, err
		}
		if _, parseErr := decimal.NewFromString(rate); parseErr != nil {
			fmt.Fprintln(out, "Rate must be a decimal number.")
			continue
		}
		rule.Rate = rate
		break
	}

	currency, err := promptOptionalString(reader, out, "Currency", strings.ToUpper(strings.TrimSpace(defaultCurrency)))
	if err != nil {
		return rule, err
	}
	rule.Currency = strings.ToUpper(strings.TrimSpace(currency))

	if directory != nil {
		if err := promptFreshBooksTargets(ctx, reader, out, directory, &rule); err != nil {
			return rule, err
		}
	} else {
		client, err := promptOptionalString(reader, out, "FreshBooks client name", "")
		if err != nil {
			return rule, err
		}
		rule.Client = client
	}

	name, err := promptOptionalString(reader, out, "Rule name", rule.Project)
	if err != nil {
		return rule, err
	}
	rule.Name = name
	return rule, nil
}

func promptFreshBooksTargets(ctx context.Context, reader *bufio.Reader, out io.Writer, directory rateDirectory, rule *config.RateRule) error {
	clients, err := directory.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("fetch FreshBooks clients: %w", err)
	}
	sort.Slice(clients, func(i, j int) bool {
		return strings.ToLower(clientLabel(clients[i])) < strings.ToLower(clientLabel(clients[j]))
	})
	clientOptions := make([]string, 0, len(clients)+1)
	clientOptions = append(clientOptions, "(no client)")
	for _, client := range clients {
		clientOptions = append(clientOptions, fmt.Sprintf("%s (id=%s)", clientLabel(client), client.ID))
	}
	clientIdx, err := promptSelectIndex(reader, out, "Select FreshBooks client:", clientOptions)
	if err != nil {
		return err
	}
	if clientIdx > 0 {
		selected := clients[clientIdx-1]
		rule.Client = clientLabel(selected)
		rule.ClientID = selected.ID.String()
	}

	services, err := directory.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("fetch FreshBooks services: %w", err)
	}
	sort.Slice(services, func(i, j int) bool {
		return strings.ToLower(services[i].Name) < strings.ToLower(services[j].Name)
	})
	serviceOptions := make([]string, 0, len(services)+1)
	serviceOptions = append(serviceOptions, "(no service)")
	for _, service := range services {
		serviceOptions = append(serviceOptions, fmt.Sprintf("%s (id=%s)", service.Name, service.ID))
	}
	serviceIdx, err := promptSelectIndex(reader, out, "Select FreshBooks service:", serviceOptions)
	if err != nil {
		return err
	}
	if serviceIdx > 0 {
		rule.ServiceID = services[serviceIdx-1].ID.String()
	}
	return nil
}

func clientLabel(client freshbooks.ClientRecord) string {
	return client.Label()
}

func appendRateRuleToConfigYAML(content []byte, rule config.RateRule) ([]byte, error) {
	if strings.TrimSpace(rule.Project) == "" {
		return nil, fmt.Errorf("project is required")
	}
	if strings.TrimSpace(rule.Rate) == "" {
		return nil, fmt.Errorf("rate is required")
	}

	doc := map[string]any{}
	if strings.TrimSpace(string(content)) != "" {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	rates, err := ensureMapAny(doc, "rates")
	if err != nil {
		return nil, err
	}
	rulesList, err := ensureSliceAny(rates, "rules")
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(rule.Name)
	if name == "" {
		name = strings.TrimSpace(rule.Project)
	}
	for _, existing := range rulesList {
		ruleMap, ok := existing.(map[string]any)
		if !ok {
			continue
		}
		existingName, _ := ruleMap["name"].(string)
		if strings.EqualFold(strings.TrimSpace(existingName), name) {
			return nil, fmt.Errorf("rate rule with name %q already exists", name)
		}
	}

	entry := map[string]any{
		"name":    name,
		"project": strings.TrimSpace(rule.Project),
		"rate":    strings.TrimSpace(rule.Rate),
	}
	optional := map[string]string{
		"match":      rule.Match,
		"currency":   rule.Currency,
		"client":     rule.Client,
		"client_id":  rule.ClientID,
		"project_id": rule.ProjectID,
		"service_id": rule.ServiceID,
	}
	for key, value := range optional {
		if strings.TrimSpace(value) != "" {
			entry[key] = strings.TrimSpace(value)
		}
	}
	rulesList = append(rulesList, entry)
	rates["rules"] = rulesList

	updated, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal updated config yaml: %w", err)
	}
	if _, err := config.ValidateYAMLContent(updated); err != nil {
		return nil, fmt.Errorf("updated config is invalid: %w", err)
	}
	return updated, nil
}

func ensureMapAny(doc map[string]any, key string) (map[string]any, error) {
	raw, exists := doc[key]
	if !exists || raw == nil {
		result := map[string]any{}
		doc[key] = result
		return result, nil
	}
	result, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config key %q must be a mapping", key)
	}
	return result, nil
}

func ensureSliceAny(doc map[string]any, key string) ([]any, error) {
	raw, exists := doc[key]
	if !exists || raw == nil {
		result := []any{}
		doc[key] = result
		return result, nil
	}
	result, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("config key %q must be a list", key)
	}
	return result, nil
}

func init() {
	configRateCmd.AddCommand(configRateAddCmd)

	configRateAddCmd.Flags().DurationVar(&configRateAddTimeout, "timeout", 60*time.Second, "Timeout for FreshBooks lookup API calls")
	configRateAddCmd.Flags().BoolVar(&configRateAddOffline, "offline", false, "Do not fetch clients and services from FreshBooks")
}
