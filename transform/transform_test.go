package transform

import (
	"reflect"
	"testing"
	"time"

	"timebill/config"
	"timebill/internal/syncerr"
	"timebill/worklog"

	"github.com/shopspring/decimal"
)

func testRates(t *testing.T) RateTable {
	t.Helper()
	table, err := NewRateTable(config.RatesConfig{
		Currency: "eur",
		Rules: []config.RateRule{
			{Project: "Acme  Website", Rate: "95.50", Client: "Acme Corp", ServiceID: "77"},
			{Project: "Globex", Match: "prefix", Rate: "120", Currency: "usd", ClientID: "42"},
			{Project: "internal-*", Match: "glob", Rate: "0"},
		},
	})
	if err != nil {
		t.Fatalf("NewRateTable returned error: %v", err)
	}
	return table
}

func entry(id, project string, d time.Duration) worklog.TimeEntry {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return worklog.TimeEntry{
		ID:          id,
		Start:       start,
		End:         start.Add(d),
		Duration:    d,
		Project:     project,
		Description: "Landing page",
		Billable:    true,
		FolderID:    "folder-9",
		Source:      worklog.SourceCSV,
	}
}

func TestTransform_IsDeterministic(t *testing.T) {
	t.Parallel()

	rates := testRates(t)
	rounding := Rounding{Increment: 15 * time.Minute, Mode: RoundNearest}
	in := entry("e1", "Acme   Website", 50*time.Minute)

	first, err := Transform(in, rates, rounding)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Transform(in, rates, rounding)
		if err != nil {
			t.Fatalf("Transform returned error: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("expected identical items, got %+v and %+v", first, again)
		}
	}

	if first.IdempotencyToken != IdempotencyToken("e1") {
		t.Fatalf("token must derive from the source id")
	}
	if !first.Quantity.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("expected 0.75h, got %s", first.Quantity)
	}
	if !first.Amount.Equal(decimal.RequireFromString("71.63")) {
		t.Fatalf("expected amount 71.63, got %s", first.Amount)
	}
	if first.Currency != "EUR" || first.ClientName != "Acme Corp" || first.ServiceID != "77" {
		t.Fatalf("unexpected rate mapping: %+v", first)
	}
	if first.ProjectID != "folder-9" {
		t.Fatalf("expected folder id as project id, got %q", first.ProjectID)
	}
	if first.Description != "Acme Website: Landing page" {
		t.Fatalf("unexpected description: %q", first.Description)
	}
}

func TestTransform_RateMatching(t *testing.T) {
	t.Parallel()

	rates := testRates(t)
	rounding := Rounding{Increment: 15 * time.Minute}

	item, err := Transform(entry("g1", "Globex Platform", time.Hour), rates, rounding)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if !item.UnitRate.Equal(decimal.NewFromInt(120)) || item.Currency != "USD" || item.ClientID != "42" {
		t.Fatalf("expected prefix rule, got %+v", item)
	}

	item, err = Transform(entry("i1", "Internal-Meetings", time.Hour), rates, rounding)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if !item.Amount.IsZero() {
		t.Fatalf("expected zero amount for internal glob, got %s", item.Amount)
	}
}

func TestTransform_RateNotFound(t *testing.T) {
	t.Parallel()

	_, err := Transform(entry("u1", "Unknown Co", time.Hour), testRates(t), Rounding{})
	if !syncerr.Is(err, syncerr.KindRateNotFound) {
		t.Fatalf("expected rate-not-found, got %v", err)
	}
	var classified *syncerr.Error
	if !asSyncErr(err, &classified) || classified.EntryID != "u1" || classified.Stage != "transform" {
		t.Fatalf("expected entry context on error, got %v", err)
	}
}

func TestTransform_DefaultRate(t *testing.T) {
	t.Parallel()

	table, err := NewRateTable(config.RatesConfig{Currency: "USD", Default: "80"})
	if err != nil {
		t.Fatalf("NewRateTable returned error: %v", err)
	}
	item, err := Transform(entry("d1", "Anything", 30*time.Minute), table, Rounding{})
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if !item.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 40, got %s", item.Amount)
	}
}

func TestTransform_RejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	rates := testRates(t)
	running := entry("r1", "Acme Website", 0)
	running.End = time.Time{}

	cases := map[string]worklog.TimeEntry{
		"running":       running,
		"zero duration": entry("z1", "Acme Website", 0),
		"missing id":    entry("", "Acme Website", time.Hour),
	}
	for name, in := range cases {
		if _, err := Transform(in, rates, Rounding{}); !syncerr.Is(err, syncerr.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestTransform_ServiceFromEntry(t *testing.T) {
	t.Parallel()

	table, _ := NewRateTable(config.RatesConfig{Currency: "USD", Default: "10"})
	in := entry("s1", "Anything", time.Hour)
	in.Service = "Design"
	item, err := Transform(in, table, Rounding{})
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if item.ServiceName != "Design" || item.ServiceID != "" {
		t.Fatalf("expected service name, got %+v", item)
	}

	in.Service = "123"
	item, _ = Transform(in, table, Rounding{})
	if item.ServiceID != "123" {
		t.Fatalf("expected numeric service id, got %+v", item)
	}
}

func TestTransform_CopiesTags(t *testing.T) {
	t.Parallel()

	table, _ := NewRateTable(config.RatesConfig{Currency: "USD", Default: "10"})
	in := entry("t1", "Anything", time.Hour)
	in.Tags = []string{"design", "review"}
	item, err := Transform(in, table, Rounding{})
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if !reflect.DeepEqual(item.Tags, []string{"design", "review"}) {
		t.Fatalf("unexpected tags: %v", item.Tags)
	}
	in.Tags[0] = "changed"
	if item.Tags[0] != "design" {
		t.Fatalf("item shares the entry's tag slice")
	}
}

func TestIdempotencyTokenIsStable(t *testing.T) {
	t.Parallel()

	if IdempotencyToken("abc") != IdempotencyToken(" abc ") {
		t.Fatalf("expected whitespace-insensitive token")
	}
	if IdempotencyToken("abc") == IdempotencyToken("abd") {
		t.Fatalf("expected distinct tokens for distinct ids")
	}
}
