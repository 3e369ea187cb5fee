package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(method, endpoint string, status int, header http.Header, body string) *Error {
	err := fmt.Errorf("request %s %s failed with status %d: %s", method, endpoint, status, strings.TrimSpace(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth(err)
	case status == http.StatusTooManyRequests:
		return RateLimit(ParseRetryAfter(header.Get("Retry-After"), time.Now()), err)
	case status == http.StatusRequestTimeout || status >= 500:
		return Network(err)
	default:
		return Validation(err)
	}
}

// FromTransport classifies an error returned by the HTTP client itself.
// Cancellation keeps its identity so callers can tell it apart from timeouts.
func FromTransport(method, endpoint string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request %s %s: %w", method, endpoint, err)
	}
	return Network(fmt.Errorf("request %s %s failed: %w", method, endpoint, err))
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}
