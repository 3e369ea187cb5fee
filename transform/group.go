package transform

import (
	"fmt"
	"sort"

	"timebill/internal/timeutil"

	"github.com/shopspring/decimal"
)

type GroupBy string

const (
	GroupByProject GroupBy = "project"
	GroupByDay     GroupBy = "day"
)

type Group struct {
	Key      string
	Items    int
	Quantity decimal.Decimal
	Amount   decimal.Decimal
	Currency string
}

// GroupItems aggregates items for reporting. Groups are sorted by key.
func GroupItems(items []LineItem, by GroupBy) ([]Group, error) {
	keyOf, err := groupKey(by)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	groups := make([]Group, 0)
	for _, item := range items {
		key := keyOf(item)
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, Group{Key: key, Currency: item.Currency})
		}
		g := &groups[pos]
		g.Items++
		g.Quantity = g.Quantity.Add(item.Quantity)
		g.Amount = g.Amount.Add(item.Amount)
		if g.Currency != item.Currency {
			g.Currency = "mixed"
		}
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}

// Totals sums all groups.
func Totals(groups []Group) Group {
	total := Group{Key: "total"}
	for i, g := range groups {
		total.Items += g.Items
		total.Quantity = total.Quantity.Add(g.Quantity)
		total.Amount = total.Amount.Add(g.Amount)
		if i == 0 {
			total.Currency = g.Currency
		} else if total.Currency != g.Currency {
			total.Currency = "mixed"
		}
	}
	return total
}

func groupKey(by GroupBy) (func(LineItem) string, error) {
	switch by {
	case GroupByProject, "":
		return func(item LineItem) string {
			if item.Project == "" {
				return "(none)"
			}
			return item.Project
		}, nil
	case GroupByDay:
		return func(item LineItem) string {
			return item.StartedAt.Format(timeutil.DayLayout)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported grouping %q (valid: project, day)", by)
	}
}
