package transform

import (
	"fmt"
	"path"
	"strings"

	"timebill/config"

	"github.com/shopspring/decimal"
)

type MatchMode string

const (
	MatchExact  MatchMode = "exact"
	MatchPrefix MatchMode = "prefix"
	MatchGlob   MatchMode = "glob"
)

// Rate is what a rule resolves to for one project.
type Rate struct {
	Name       string
	Hourly     decimal.Decimal
	Currency   string
	ClientName string
	ClientID   string
	ProjectID  string
	ServiceID  string
}

type RateRule struct {
	Pattern string
	Match   MatchMode
	Rate    Rate
}

// RateTable resolves project labels to rates. Rules are tried in order and
// the first match wins.
type RateTable struct {
	Rules    []RateRule
	Default  *Rate
	Currency string
}

func NewRateTable(cfg config.RatesConfig) (RateTable, error) {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	table := RateTable{Currency: currency, Rules: make([]RateRule, 0, len(cfg.Rules))}

	if raw := strings.TrimSpace(cfg.Default); raw != "" {
		hourly, err := decimal.NewFromString(raw)
		if err != nil {
			return RateTable{}, fmt.Errorf("parse default rate %q: %w", raw, err)
		}
		table.Default = &Rate{Name: "default", Hourly: hourly, Currency: currency}
	}

	for i, rule := range cfg.Rules {
		hourly, err := decimal.NewFromString(strings.TrimSpace(rule.Rate))
		if err != nil {
			return RateTable{}, fmt.Errorf("parse rate of rule %d: %w", i, err)
		}
		mode := MatchMode(strings.ToLower(strings.TrimSpace(rule.Match)))
		if mode == "" {
			mode = MatchExact
		}
		ruleCurrency := strings.ToUpper(strings.TrimSpace(rule.Currency))
		if ruleCurrency == "" {
			ruleCurrency = currency
		}
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			name = strings.TrimSpace(rule.Project)
		}
		table.Rules = append(table.Rules, RateRule{
			Pattern: normalizeLabel(rule.Project),
			Match:   mode,
			Rate: Rate{
				Name:       name,
				Hourly:     hourly,
				Currency:   ruleCurrency,
				ClientName: strings.TrimSpace(rule.Client),
				ClientID:   strings.TrimSpace(rule.ClientID),
				ProjectID:  strings.TrimSpace(rule.ProjectID),
				ServiceID:  strings.TrimSpace(rule.ServiceID),
			},
		})
	}
	return table, nil
}

// Lookup returns the rate for project and false when neither a rule nor a
// default applies.
func (t RateTable) Lookup(project string) (Rate, bool) {
	label := normalizeLabel(project)
	for _, rule := range t.Rules {
		if rule.matches(label) {
			return rule.Rate, true
		}
	}
	if t.Default != nil {
		return *t.Default, true
	}
	return Rate{}, false
}

func (r RateRule) matches(label string) bool {
	switch r.Match {
	case MatchPrefix:
		return strings.HasPrefix(label, r.Pattern)
	case MatchGlob:
		ok, err := path.Match(r.Pattern, label)
		return err == nil && ok
	default:
		return label == r.Pattern
	}
}

func normalizeLabel(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
