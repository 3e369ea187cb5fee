// Package transform turns time entries into priced invoice line items. It is
// pure: the same entry, rates and rounding always give the same item.
package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"timebill/internal/syncerr"
	"timebill/worklog"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	SourceEntryID    string
	IdempotencyToken string
	Project          string
	Description      string
	Quantity         decimal.Decimal
	UnitRate         decimal.Decimal
	Amount           decimal.Decimal
	Currency         string
	StartedAt        time.Time
	Duration         time.Duration
	Billable         bool

	ClientName  string
	ClientID    string
	ProjectID   string
	ServiceName string
	ServiceID   string
	// Tags are tried as service names when no service is set.
	Tags []string

	// DestinationInvoiceID is set once the item was accepted downstream.
	DestinationInvoiceID string
}

func Transform(entry worklog.TimeEntry, rates RateTable, rounding Rounding) (LineItem, error) {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return LineItem{}, transformError(syncerr.Validation(errors.New("entry has no source id")), "")
	}
	if entry.Running() {
		return LineItem{}, transformError(syncerr.Validation(errors.New("entry is still running")), id)
	}
	if entry.Duration <= 0 {
		return LineItem{}, transformError(syncerr.Validation(fmt.Errorf("duration %s is not positive", entry.Duration)), id)
	}

	project := entry.Label()
	rate, ok := rates.Lookup(project)
	if !ok {
		return LineItem{}, transformError(syncerr.RateNotFound(project), id)
	}

	billed := rounding.Round(entry.Duration)
	quantity := Hours(billed)
	currency := rate.Currency
	if currency == "" {
		currency = rates.Currency
	}

	item := LineItem{
		SourceEntryID:    id,
		IdempotencyToken: IdempotencyToken(id),
		Project:          project,
		Description:      describe(project, entry.Description),
		Quantity:         quantity,
		UnitRate:         rate.Hourly,
		Amount:           quantity.Mul(rate.Hourly).Round(2),
		Currency:         currency,
		StartedAt:        entry.Start,
		Duration:         billed,
		Billable:         entry.Billable,
		ClientName:       rate.ClientName,
		ClientID:         rate.ClientID,
		ProjectID:        firstNonEmpty(rate.ProjectID, entry.FolderID),
		ServiceID:        rate.ServiceID,
	}
	if len(entry.Tags) > 0 {
		item.Tags = append([]string(nil), entry.Tags...)
	}
	if item.ServiceID == "" {
		if isNumeric(entry.Service) {
			item.ServiceID = strings.TrimSpace(entry.Service)
		} else {
			item.ServiceName = strings.TrimSpace(entry.Service)
		}
	}
	return item, nil
}

func transformError(err *syncerr.Error, entryID string) error {
	err.Stage = "transform"
	err.EntryID = entryID
	return err
}

func describe(project, note string) string {
	project = strings.TrimSpace(project)
	note = strings.TrimSpace(note)
	switch {
	case project == "":
		return note
	case note == "":
		return project
	default:
		return project + ": " + note
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func isNumeric(value string) bool {
	value = strings.TrimSpace(value)
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
