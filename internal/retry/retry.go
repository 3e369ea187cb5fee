// Package retry runs an operation with bounded exponential backoff. Only
// transient failures (network, rate limit) are retried.
package retry

import (
	"context"
	"time"

	"timebill/internal/syncerr"

	"github.com/cenkalti/backoff/v4"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// Jitter is the backoff randomization factor; zero gives exact doubling.
	Jitter float64
	Sleep  Sleeper
}

// Do calls op until it succeeds, fails with a non-retryable error, or
// MaxAttempts calls were made. It returns the number of calls and the last
// error. A rate-limit Retry-After longer than the backoff step wins.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	b := p.backOff()
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(attempt)
		if err == nil {
			return attempt, nil
		}
		if !syncerr.KindOf(err).Retryable() || attempt == maxAttempts {
			return attempt, err
		}

		wait := b.NextBackOff()
		if hint := syncerr.RetryAfterOf(err); hint > wait {
			wait = hint
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return attempt, err
		}
	}
	return maxAttempts, err
}

// Delays returns the waits Do would use between attempts when no Retry-After
// hints are involved.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backOff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
