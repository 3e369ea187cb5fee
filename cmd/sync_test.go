package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"timebill/config"
	"timebill/ledger"
	"timebill/pipeline"
	"timebill/source"

	"github.com/rs/zerolog"
)

const syncTestCSV = `TimeEntryID,StartDate,Duration,Billable,ActivityID,Activity,FolderId,Folder,service,Note
e1,2026-03-02 09:00,3600,yes,11,Acme Website,f1,Acme,,Landing page
e2,2026-03-02 11:00,1800,yes,11,Acme Website,f1,Acme,,Header
`

type fakeFreshBooks struct {
	server *httptest.Server
	posts  atomic.Int32
	keys   chan string
}

func newFakeFreshBooks(t *testing.T) *fakeFreshBooks {
	t.Helper()
	fb := &fakeFreshBooks{keys: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/api/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer static-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"response":{"id":4242,"first_name":"Ada","last_name":"L"}}`)
	})
	mux.HandleFunc("/timetracking/business/77/time_entries", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			fmt.Fprint(w, `{"time_entries":[],"meta":{"page":1,"pages":1}}`)
			return
		}
		n := fb.posts.Add(1)
		fb.keys <- r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"time_entry":{"id":%d}}`, 900+n)
	})
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func testSyncConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`freshbooks:
  base_url: %q
rates:
  currency: "EUR"
  default: "100"
sync:
  workers: 2
  max_attempts: 2
  initial_backoff: 1ms
  max_backoff: 2ms
  ledger_path: %q
`, baseURL, filepath.Join(dir, "ledger.db"))
	cfg, err := config.ValidateYAMLContent([]byte(content))
	if err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	cfg.FreshBooks.BusinessID = "77"
	cfg.FreshBooks.AccessToken = "static-token"
	return cfg
}

func writeSyncCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte(syncTestCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestRunSync_SecondRunSubmitsNothing(t *testing.T) {
	fb := newFakeFreshBooks(t)
	cfg := testSyncConfig(t, fb.server.URL)
	sel := sourceSelection{Path: writeSyncCSV(t)}.withConfig(cfg.Source)

	for run := 1; run <= 2; run++ {
		var out bytes.Buffer
		result, err := runSync(context.Background(), cfg, sel, syncRunOptions{
			Reader: bufio.NewReader(strings.NewReader("")),
			Out:    &out,
			Logger: zerolog.Nop(),
		})
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", run, err)
		}
		if result != nil {
			t.Fatalf("run %d: unexpected exit: %v\n%s", run, result, out.String())
		}
	}

	if got := fb.posts.Load(); got != 2 {
		t.Fatalf("expected 2 submissions over both runs, got %d", got)
	}
	close(fb.keys)
	for key := range fb.keys {
		if strings.TrimSpace(key) == "" {
			t.Fatalf("expected Idempotency-Key header on every submission")
		}
	}

	l, err := ledger.Open(cfg.Sync.LedgerPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer l.Close()
	entries, err := l.List(context.Background(), ledger.Filter{Status: ledger.StatusSubmitted})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 submitted ledger rows, got %d", len(entries))
	}
}

func TestRunSync_DryRunPrintsPlanWithoutSubmitting(t *testing.T) {
	fb := newFakeFreshBooks(t)
	cfg := testSyncConfig(t, fb.server.URL)
	sel := sourceSelection{Path: writeSyncCSV(t)}.withConfig(cfg.Source)

	var out bytes.Buffer
	result, err := runSync(context.Background(), cfg, sel, syncRunOptions{
		DryRun: true,
		Reader: bufio.NewReader(strings.NewReader("")),
		Out:    &out,
		Logger: zerolog.Nop(),
	})
	if err != nil || result != nil {
		t.Fatalf("unexpected outcome: err=%v result=%v", err, result)
	}
	if fb.posts.Load() != 0 {
		t.Fatalf("dry-run must not submit")
	}
	text := out.String()
	if !strings.Contains(text, "would submit") || !strings.Contains(text, "e1") || !strings.Contains(text, "Would submit: 2") {
		t.Fatalf("unexpected dry-run output:\n%s", text)
	}
}

func TestRunSync_DeclinedConfirmationSubmitsNothing(t *testing.T) {
	fb := newFakeFreshBooks(t)
	cfg := testSyncConfig(t, fb.server.URL)
	sel := sourceSelection{Path: writeSyncCSV(t)}.withConfig(cfg.Source)

	var out bytes.Buffer
	result, err := runSync(context.Background(), cfg, sel, syncRunOptions{
		Confirm: true,
		Reader:  bufio.NewReader(strings.NewReader("n\n")),
		Out:     &out,
		Logger:  zerolog.Nop(),
	})
	if err != nil || result != nil {
		t.Fatalf("unexpected outcome: err=%v result=%v", err, result)
	}
	if fb.posts.Load() != 0 {
		t.Fatalf("declined sync must not submit")
	}
	text := out.String()
	if !strings.Contains(text, "New entries:            2") || !strings.Contains(text, "Hours:                  1.50") {
		t.Fatalf("expected plan in output, got:\n%s", text)
	}
	if !strings.Contains(text, "150.00 EUR") {
		t.Fatalf("expected plan amount in output, got:\n%s", text)
	}
	if !strings.Contains(text, "Aborted") {
		t.Fatalf("expected abort message, got:\n%s", text)
	}
}

func TestRunSync_MissingBusinessIDFailsBeforeFetching(t *testing.T) {
	cfg := testSyncConfig(t, "http://127.0.0.1:1")
	cfg.FreshBooks.BusinessID = ""
	sel := sourceSelection{Path: writeSyncCSV(t)}.withConfig(cfg.Source)

	_, err := runSync(context.Background(), cfg, sel, syncRunOptions{
		Reader: bufio.NewReader(strings.NewReader("")),
		Out:    &bytes.Buffer{},
		Logger: zerolog.Nop(),
	})
	if err == nil || !strings.Contains(err.Error(), "FRESHBOOKS_BUSINESS_ID") {
		t.Fatalf("expected missing business id error, got %v", err)
	}
}

func TestSyncExit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		summary pipeline.Summary
		runErr  error
		want    int
	}{
		{name: "success", summary: pipeline.Summary{Recorded: 2, Skipped: 1}, want: 0},
		{name: "failed entry", summary: pipeline.Summary{Recorded: 1, Failed: 1}, want: exitEntriesFailed},
		{name: "parse errors", summary: pipeline.Summary{ParseErrors: []source.ParseError{{Row: 3, Reason: "bad"}}}, want: exitEntriesFailed},
		{name: "cancelled entries", summary: pipeline.Summary{Cancelled: 2}, want: exitCancelled},
		{name: "interrupted run", runErr: fmt.Errorf("wrap: %w", context.Canceled), want: exitCancelled},
		{name: "aborted run", runErr: errors.New("ledger unavailable"), want: exitRunAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := syncExit(tt.summary, tt.runErr)
			if tt.want == 0 {
				if got != nil {
					t.Fatalf("expected success, got %v", got)
				}
				return
			}
			if got == nil || got.code != tt.want {
				t.Fatalf("expected exit code %d, got %+v", tt.want, got)
			}
		})
	}
}

func TestPromptSourceSelection(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	reader := bufio.NewReader(strings.NewReader("9\n2\n./export.csv\n"))
	sel, err := promptSourceSelection(reader, &out, sourceSelection{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Kind != "csv" || sel.Path != "./export.csv" {
		t.Fatalf("unexpected selection: %+v", sel)
	}
	if !strings.Contains(out.String(), "Invalid selection") {
		t.Fatalf("expected invalid selection hint, got:\n%s", out.String())
	}
}

func TestSourceSelectionResolvedKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sel     sourceSelection
		want    string
		wantErr bool
	}{
		{name: "explicit kind", sel: sourceSelection{Kind: "Timeular"}, want: "timeular"},
		{name: "inferred from csv", sel: sourceSelection{Path: "./a.csv"}, want: "csv"},
		{name: "inferred from xlsx", sel: sourceSelection{Path: "./a.xlsx"}, want: "excel"},
		{name: "nothing selected", sel: sourceSelection{}, wantErr: true},
		{name: "unsupported extension", sel: sourceSelection{Path: "./a.txt"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sel.resolvedKind()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got kind %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("expected %q, got %q (err %v)", tt.want, got, err)
			}
		})
	}
}

func TestSourceSelectionWithConfig(t *testing.T) {
	t.Parallel()

	cfg := config.SourceConfig{Kind: "timeular", Path: "./default.csv", DaysBack: 14}
	cfg.CSV.DurationUnit = "minutes"

	fromConfig := sourceSelection{}.withConfig(cfg)
	if fromConfig.Kind != "timeular" || fromConfig.DaysBack != 14 || fromConfig.DurationUnit != "minutes" {
		t.Fatalf("unexpected defaults: %+v", fromConfig)
	}

	withInput := sourceSelection{Path: "./mine.xlsx", DaysBack: 3}.withConfig(cfg)
	if withInput.Kind != "" || withInput.Path != "./mine.xlsx" || withInput.DaysBack != 3 {
		t.Fatalf("explicit input must win over configured kind: %+v", withInput)
	}
}
