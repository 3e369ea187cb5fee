package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"timebill/config"
	"timebill/freshbooks"
	"timebill/output"
	"timebill/source"
	"timebill/transform"
	"timebill/worklog"

	"github.com/spf13/cobra"
)

var (
	mappingsSource   string
	mappingsInput    string
	mappingsFromDay  string
	mappingsToDay    string
	mappingsDaysBack int
	mappingsFormat   string
	mappingsOutput   string
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Show how source labels map to FreshBooks clients and services.",
}

var mappingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export client and service mappings to CSV/Excel",
	Long: `Read the source and resolve every activity to a FreshBooks client and every
service or tag to a FreshBooks service, the same way sync does.

The Clients table lists each activity, the number of entries, the matched client and
the match type (configured, exact, fuzzy or none) with its score. The Services table
does the same for service names and tags.

Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Check the mappings of a CSV export before syncing
  timebill mappings export --input ./export.csv --output ./mappings.csv

  # Mappings of the last 7 days from Timeular as Excel
  timebill mappings export --source timeular --days-back 7 --output ./mappings.xlsx
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}
		if err := cfg.RequireFreshBooks(); err != nil {
			return err
		}
		if strings.TrimSpace(cfg.FreshBooks.AccountID) == "" {
			return errors.New("missing required configuration: FRESHBOOKS_ACCOUNT_ID")
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		format := mappingsFormat
		if strings.TrimSpace(format) == "" {
			detected, err := output.FormatForPath(mappingsOutput)
			if err != nil {
				return err
			}
			format = detected
		}

		sel := sourceSelection{
			Kind:     mappingsSource,
			Path:     mappingsInput,
			From:     mappingsFromDay,
			To:       mappingsToDay,
			DaysBack: mappingsDaysBack,
			RangeSet: cmd.Flags().Changed("from") || cmd.Flags().Changed("to") || cmd.Flags().Changed("days-back"),
		}.withConfig(cfg.Source)
		kind, err := sel.resolvedKind()
		if err != nil {
			return err
		}
		deps, store, err := newSourceDeps(cfg, kind, logger)
		if err != nil {
			return err
		}
		connector, err := buildSource(sel, deps, time.Now())
		if err != nil {
			return err
		}
		rates, _, err := loadPricing(cfg)
		if err != nil {
			return err
		}
		client, err := newFreshBooksClient(cfg, store, logger)
		if err != nil {
			return err
		}

		entries, parseErrors, err := source.Collect(cmd.Context(), connector)
		if err != nil {
			return fmt.Errorf("fetch entries: %w", err)
		}
		clients, services, err := buildMappings(cmd.Context(), client, entries, rates)
		if err != nil {
			return err
		}
		if err := output.WriteMappings(mappingsOutput, format, clients, services); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(
			out,
			"Export completed. Clients: %d (%d unmatched), Services: %d (%d unmatched), Format: %s, File: %s\n",
			len(clients), countUnmatched(clients), len(services), countUnmatched(services), format, mappingsOutput,
		)
		for _, parseErr := range parseErrors {
			fmt.Fprintf(out, "  Malformed row %d: %s\n", parseErr.Row, parseErr.Reason)
		}
		return nil
	},
}

type mappingMatcher interface {
	MatchClient(ctx context.Context, name string) (freshbooks.Mapping, error)
	MatchService(ctx context.Context, name string) (freshbooks.Mapping, error)
}

// buildMappings resolves the distinct labels of entries the way a submission
// would: rate rule ids first, then the configured client name or the activity,
// then the entry's service or its tags.
func buildMappings(ctx context.Context, matcher mappingMatcher, entries []worklog.TimeEntry, rates transform.RateTable) ([]output.MappingRow, []output.MappingRow, error) {
	clients := newMappingSet()
	services := newMappingSet()

	for _, entry := range entries {
		label := entry.Label()
		rate, _ := rates.Lookup(label)

		switch {
		case strings.TrimSpace(rate.ClientID) != "":
			clients.add("activity", label, func() (freshbooks.Mapping, error) {
				return configuredMapping(label, rate.ClientID, rate.ClientName), nil
			})
		case strings.TrimSpace(rate.ClientName) != "":
			name := strings.TrimSpace(rate.ClientName)
			clients.add("rate client", name, func() (freshbooks.Mapping, error) {
				return matcher.MatchClient(ctx, name)
			})
		case label != "":
			clients.add("activity", label, func() (freshbooks.Mapping, error) {
				return matcher.MatchClient(ctx, label)
			})
		}

		service := strings.TrimSpace(entry.Service)
		switch {
		case strings.TrimSpace(rate.ServiceID) != "":
			services.add("rate rule", label, func() (freshbooks.Mapping, error) {
				return configuredMapping(label, rate.ServiceID, ""), nil
			})
		case service != "" && isDigits(service):
			services.add("service", service, func() (freshbooks.Mapping, error) {
				return configuredMapping(service, service, ""), nil
			})
		case service != "":
			services.add("service", service, func() (freshbooks.Mapping, error) {
				return matcher.MatchService(ctx, service)
			})
		default:
			for _, tag := range entry.Tags {
				tag = strings.TrimSpace(tag)
				if tag == "" {
					continue
				}
				services.add("tag", tag, func() (freshbooks.Mapping, error) {
					return matcher.MatchService(ctx, tag)
				})
			}
		}
	}

	clientRows, err := clients.resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("match clients: %w", err)
	}
	serviceRows, err := services.resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("match services: %w", err)
	}
	return clientRows, serviceRows, nil
}

type mappingKey struct {
	kind  string
	label string
}

type pendingMapping struct {
	row   output.MappingRow
	match func() (freshbooks.Mapping, error)
}

// mappingSet counts entries per distinct label and matches each label once.
type mappingSet struct {
	order []mappingKey
	items map[mappingKey]*pendingMapping
}

func newMappingSet() *mappingSet {
	return &mappingSet{items: make(map[mappingKey]*pendingMapping)}
}

func (s *mappingSet) add(kind, label string, match func() (freshbooks.Mapping, error)) {
	key := mappingKey{kind: kind, label: strings.ToLower(label)}
	if item, ok := s.items[key]; ok {
		item.row.Entries++
		return
	}
	s.order = append(s.order, key)
	s.items[key] = &pendingMapping{
		row:   output.MappingRow{Kind: kind, Entries: 1, Mapping: freshbooks.Mapping{Input: label}},
		match: match,
	}
}

func (s *mappingSet) resolve() ([]output.MappingRow, error) {
	rows := make([]output.MappingRow, 0, len(s.order))
	for _, key := range s.order {
		item := s.items[key]
		mapping, err := item.match()
		if err != nil {
			return nil, err
		}
		mapping.Input = item.row.Mapping.Input
		item.row.Mapping = mapping
		rows = append(rows, item.row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return strings.ToLower(rows[i].Mapping.Input) < strings.ToLower(rows[j].Mapping.Input)
	})
	return rows, nil
}

func configuredMapping(label, id, name string) freshbooks.Mapping {
	return freshbooks.Mapping{
		Input: label,
		ID:    strings.TrimSpace(id),
		Name:  strings.TrimSpace(name),
		Type:  freshbooks.MatchConfigured,
	}
}

func countUnmatched(rows []output.MappingRow) int {
	count := 0
	for _, row := range rows {
		if !row.Mapping.Matched() {
			count++
		}
	}
	return count
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(mappingsCmd)
	mappingsCmd.AddCommand(mappingsExportCmd)

	mappingsExportCmd.Flags().StringVar(&mappingsSource, "source", "", "Source kind: timeular, csv or excel (default: source.kind, or inferred from --input)")
	mappingsExportCmd.Flags().StringVarP(&mappingsInput, "input", "i", "", "CSV or Excel export to read")
	mappingsExportCmd.Flags().StringVar(&mappingsFromDay, "from", "", "First day (inclusive), format YYYY-MM-DD")
	mappingsExportCmd.Flags().StringVar(&mappingsToDay, "to", "", "Last day (inclusive), format YYYY-MM-DD")
	mappingsExportCmd.Flags().IntVar(&mappingsDaysBack, "days-back", 0, "Days to look back when --from is empty (default: source.days_back)")
	mappingsExportCmd.Flags().StringVarP(&mappingsFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	mappingsExportCmd.Flags().StringVarP(&mappingsOutput, "output", "o", "", "Output file path")

	_ = mappingsExportCmd.MarkFlagRequired("output")
}
