package source

import (
	"context"
	"iter"
	"time"

	"timebill/credentials"
	"timebill/internal/retry"
	"timebill/internal/syncerr"
	"timebill/internal/timeutil"
	"timebill/timeular"
	"timebill/worklog"

	"github.com/rs/zerolog"
)

const DefaultWindowSize = 7 * 24 * time.Hour

type EntriesClient interface {
	TimeEntries(ctx context.Context, token string, from, to time.Time) ([]timeular.TimeEntry, error)
}

type TokenSource interface {
	Get(ctx context.Context, service string) (credentials.Credentials, error)
	Refresh(ctx context.Context, service string) (credentials.Credentials, error)
}

// TimeularConnector walks Range window by window. The cursor is the start
// of the current window, so a restarted Fetch begins at Range.From again.
type TimeularConnector struct {
	Client      EntriesClient
	Credentials TokenSource
	Range       timeutil.Window
	WindowSize  time.Duration
	Retry       retry.Policy
	Logger      zerolog.Logger
}

func (c *TimeularConnector) Fetch(ctx context.Context) iter.Seq2[worklog.TimeEntry, error] {
	return func(yield func(worklog.TimeEntry, error) bool) {
		size := c.WindowSize
		if size <= 0 {
			size = DefaultWindowSize
		}

		seen := make(map[string]struct{})
		position := 0
		for _, window := range timeutil.Windows(c.Range.From, c.Range.To, size) {
			if err := ctx.Err(); err != nil {
				yield(worklog.TimeEntry{}, err)
				return
			}

			raw, err := c.fetchWindow(ctx, window)
			if err != nil {
				yield(worklog.TimeEntry{}, syncerr.WithEntry(err, "fetch", ""))
				return
			}
			c.Logger.Debug().
				Time("from", window.From).
				Time("to", window.To).
				Int("entries", len(raw)).
				Msg("fetched timeular window")

			for _, item := range raw {
				position++
				entry, err := item.ToWorklog()
				if err != nil {
					parseErr := syncerr.ParseError(position, err.Error())
					parseErr.EntryID = string(item.ID)
					if !yield(worklog.TimeEntry{}, parseErr) {
						return
					}
					continue
				}
				// Entries crossing a window boundary are returned for both windows.
				if _, dup := seen[entry.ID]; dup {
					continue
				}
				seen[entry.ID] = struct{}{}
				if !c.Range.Contains(entry.Start) {
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}

// fetchWindow retries transient failures per the retry policy and refreshes
// credentials once when the API rejects the token.
func (c *TimeularConnector) fetchWindow(ctx context.Context, window timeutil.Window) ([]timeular.TimeEntry, error) {
	refreshed := false
	for {
		var entries []timeular.TimeEntry
		_, err := c.Retry.Do(ctx, func(attempt int) error {
			creds, err := c.Credentials.Get(ctx, credentials.ServiceTimeular)
			if err != nil {
				return err
			}
			entries, err = c.Client.TimeEntries(ctx, creds.Token, window.From, window.To)
			if err != nil && syncerr.KindOf(err).Retryable() {
				c.Logger.Warn().Err(err).Int("attempt", attempt).Msg("timeular request failed")
			}
			return err
		})
		if err == nil {
			return entries, nil
		}
		if !syncerr.Is(err, syncerr.KindAuth) || refreshed {
			return nil, err
		}

		refreshed = true
		c.Logger.Info().Msg("timeular rejected token, signing in again")
		if _, err := c.Credentials.Refresh(ctx, credentials.ServiceTimeular); err != nil {
			return nil, err
		}
	}
}
