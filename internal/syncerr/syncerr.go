// Package syncerr classifies pipeline failures so callers can decide between
// retrying, failing a single entry, or aborting the whole run.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindNetwork
	KindRateLimit
	KindParse
	KindValidation
	KindRateNotFound
	KindLedger
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindRateLimit:
		return "rate_limit"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindRateNotFound:
		return "rate_not_found"
	case KindLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind is transient.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimit
}

// Error carries the classification plus enough context for manual reconciliation.
type Error struct {
	Kind       Kind
	Stage      string
	EntryID    string
	Row        int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	parts = append(parts, e.Kind.String()+" error")
	if e.Stage != "" {
		parts = append(parts, "stage="+e.Stage)
	}
	if e.EntryID != "" {
		parts = append(parts, "entry="+e.EntryID)
	}
	if e.Row > 0 {
		parts = append(parts, fmt.Sprintf("row=%d", e.Row))
	}
	msg := strings.Join(parts, " ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Auth(err error) *Error       { return New(KindAuth, err) }
func Network(err error) *Error    { return New(KindNetwork, err) }
func Validation(err error) *Error { return New(KindValidation, err) }
func Ledger(err error) *Error     { return New(KindLedger, err) }

func RateLimit(retryAfter time.Duration, err error) *Error {
	e := New(KindRateLimit, err)
	e.RetryAfter = retryAfter
	return e
}

// ParseError reports a malformed source row. Row is 1-based and counts the header.
func ParseError(row int, reason string) *Error {
	return &Error{Kind: KindParse, Stage: "fetch", Row: row, Err: errors.New(reason)}
}

func RateNotFound(project string) *Error {
	return &Error{
		Kind:  KindRateNotFound,
		Stage: "transform",
		Err:   fmt.Errorf("no rate configured for project %q and no default rate", project),
	}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the server-provided wait hint, if any.
func RetryAfterOf(err error) time.Duration {
	var target *Error
	if errors.As(err, &target) {
		return target.RetryAfter
	}
	return 0
}

// WithEntry annotates err with stage and entry id, keeping its kind. Unclassified
// errors become KindUnknown.
func WithEntry(err error, stage, entryID string) error {
	if err == nil {
		return nil
	}
	var target *Error
	if errors.As(err, &target) {
		clone := *target
		if clone.Stage == "" || stage != "" {
			clone.Stage = stage
		}
		clone.EntryID = entryID
		return &clone
	}
	return &Error{Kind: KindUnknown, Stage: stage, EntryID: entryID, Err: err}
}
