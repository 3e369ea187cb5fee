package syncerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestKindOf_UnwrapsThroughFmtErrorf(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("submit entry: %w", Network(errors.New("connection reset")))
	if got := KindOf(err); got != KindNetwork {
		t.Fatalf("expected network kind, got %s", got)
	}
	if !KindOf(err).Retryable() {
		t.Fatalf("expected network errors to be retryable")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain errors")
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNetwork, true},
		{KindRateLimit, true},
		{KindAuth, false},
		{KindValidation, false},
		{KindParse, false},
		{KindRateNotFound, false},
		{KindLedger, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.want {
			t.Fatalf("%s.Retryable() = %t, want %t", tt.kind, got, tt.want)
		}
	}
}

func TestWithEntry_KeepsKindAndAddsContext(t *testing.T) {
	t.Parallel()

	base := RateLimit(3*time.Second, errors.New("429"))
	err := WithEntry(base, "submit", "entry-7")

	if KindOf(err) != KindRateLimit {
		t.Fatalf("expected rate limit kind, got %s", KindOf(err))
	}
	if RetryAfterOf(err) != 3*time.Second {
		t.Fatalf("unexpected retry-after: %s", RetryAfterOf(err))
	}
	msg := err.Error()
	for _, want := range []string{"rate_limit", "stage=submit", "entry=entry-7", "429"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
	if base.EntryID != "" {
		t.Fatalf("WithEntry must not mutate the original error")
	}
}

func TestParseError_ReportsRow(t *testing.T) {
	t.Parallel()

	err := ParseError(4, "parse duration \"abc\"")
	if !Is(err, KindParse) {
		t.Fatalf("expected parse kind")
	}
	if !strings.Contains(err.Error(), "row=4") {
		t.Fatalf("expected row number in %q", err.Error())
	}
}
