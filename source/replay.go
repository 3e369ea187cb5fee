package source

import (
	"context"
	"iter"

	"timebill/internal/syncerr"
	"timebill/worklog"
)

// Replay yields entries that were already collected, together with their
// parse errors, so a confirmed run does not fetch the source twice.
type Replay struct {
	Entries     []worklog.TimeEntry
	ParseErrors []ParseError
}

func (r Replay) Fetch(ctx context.Context) iter.Seq2[worklog.TimeEntry, error] {
	return func(yield func(worklog.TimeEntry, error) bool) {
		for _, parseErr := range r.ParseErrors {
			if !yield(worklog.TimeEntry{}, syncerr.ParseError(parseErr.Row, parseErr.Reason)) {
				return
			}
		}
		for _, entry := range r.Entries {
			if ctx.Err() != nil {
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}
