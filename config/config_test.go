package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidateYAMLContent_ExampleIsValid(t *testing.T) {
	t.Parallel()

	cfg, err := ValidateYAMLContent([]byte(ExampleYAML()))
	if err != nil {
		t.Fatalf("expected example config to validate: %v", err)
	}
	if cfg.Rounding.Increment != 15*time.Minute {
		t.Fatalf("unexpected rounding increment: %s", cfg.Rounding.Increment)
	}
	if cfg.Sync.MaxAttempts != 5 || cfg.Sync.Workers != 4 {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Source.Timeular.Window != 7*24*time.Hour {
		t.Fatalf("unexpected timeular window: %s", cfg.Source.Timeular.Window)
	}
}

func TestValidateYAMLContent_RejectsUnsupportedMatch(t *testing.T) {
	t.Parallel()

	content := []byte(`rates:
  currency: "EUR"
  rules:
    - project: "Acme*"
      match: "regex"
      rate: "95"
`)

	_, err := ValidateYAMLContent(content)
	if err == nil {
		t.Fatalf("expected validation error for unsupported match")
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateYAMLContent_AcceptsMatchCaseInsensitive(t *testing.T) {
	t.Parallel()

	content := []byte(`rates:
  currency: "EUR"
  rules:
    - project: "Acme*"
      match: "GLOB"
      rate: "95.50"
      client: "Acme Corp"
`)

	cfg, err := ValidateYAMLContent(content)
	if err != nil {
		t.Fatalf("expected config to validate: %v", err)
	}
	if len(cfg.Rates.Rules) != 1 || cfg.Rates.Rules[0].Rate != "95.50" {
		t.Fatalf("unexpected rules: %+v", cfg.Rates.Rules)
	}
}

func TestValidateYAMLContent_RejectsInvalidRate(t *testing.T) {
	t.Parallel()

	content := []byte(`rates:
  rules:
    - project: "Acme"
      rate: "ninety"
`)

	_, err := ValidateYAMLContent(content)
	if err == nil || !strings.Contains(err.Error(), "invalid rate") {
		t.Fatalf("expected invalid rate error, got %v", err)
	}
}

func TestValidateYAMLContent_RejectsNegativeRate(t *testing.T) {
	t.Parallel()

	content := []byte(`rates:
  default: "-1"
`)

	_, err := ValidateYAMLContent(content)
	if err == nil || !strings.Contains(err.Error(), "must not be negative") {
		t.Fatalf("expected negative rate error, got %v", err)
	}
}

func TestValidateYAMLContent_RejectsDuplicateRule(t *testing.T) {
	t.Parallel()

	content := []byte(`rates:
  rules:
    - project: "Acme"
      rate: "90"
    - project: "acme"
      rate: "100"
`)

	_, err := ValidateYAMLContent(content)
	if err == nil || !strings.Contains(err.Error(), "duplicate rate rule") {
		t.Fatalf("expected duplicate rule error, got %v", err)
	}
}

func TestValidateYAMLContent_RejectsUnknownRoundingMode(t *testing.T) {
	t.Parallel()

	content := []byte(`rounding:
  mode: "banker"
`)

	if _, err := ValidateYAMLContent(content); err == nil {
		t.Fatalf("expected validation error for rounding mode")
	}
}

func TestValidateYAMLContent_RejectsBackoffInversion(t *testing.T) {
	t.Parallel()

	content := []byte(`sync:
  initial_backoff: 10s
  max_backoff: 1s
`)

	if _, err := ValidateYAMLContent(content); err == nil {
		t.Fatalf("expected validation error for max_backoff < initial_backoff")
	}
}

func TestRequireFreshBooks(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	err := cfg.RequireFreshBooks()
	if err == nil {
		t.Fatalf("expected missing values error")
	}
	want := "missing environment variables: FRESHBOOKS_BUSINESS_ID, FRESHBOOKS_CLIENT_ID, FRESHBOOKS_CLIENT_SECRET"
	if err.Error() != want {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.FreshBooks.BusinessID = "biz"
	cfg.FreshBooks.AccessToken = "token"
	if err := cfg.RequireFreshBooks(); err != nil {
		t.Fatalf("expected static token to satisfy requirements: %v", err)
	}
}

func TestRequireTimeular(t *testing.T) {
	t.Parallel()

	cfg := Config{Timeular: TimeularConfig{APIKey: "key"}}
	err := cfg.RequireTimeular()
	if err == nil || !strings.Contains(err.Error(), "TIMEULAR_API_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}
