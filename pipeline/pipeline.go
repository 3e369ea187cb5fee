// Package pipeline drives entries from a source through pricing, the sync
// ledger and the invoicing service, submitting each entry at most once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timebill/credentials"
	"timebill/internal/metrics"
	"timebill/internal/retry"
	"timebill/internal/syncerr"
	"timebill/ledger"
	"timebill/source"
	"timebill/transform"
	"timebill/worklog"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	ReconcileAuto   = "auto"
	ReconcileAlways = "always"

	defaultWorkers        = 4
	defaultRequestTimeout = 30 * time.Second
	defaultClaimLease     = 10 * time.Minute
	recordTimeout         = 10 * time.Second
)

// Destination accepts line items. Lookup finds an item a previous run may
// have submitted without recording it.
type Destination interface {
	Submit(ctx context.Context, item transform.LineItem) (string, error)
	Lookup(ctx context.Context, item transform.LineItem) (string, bool, error)
}

type Ledger interface {
	Has(ctx context.Context, id string) (bool, error)
	Claim(ctx context.Context, id, token, runID string, lease time.Duration) (ledger.Claim, error)
	Record(ctx context.Context, id, destinationLineItemID string, status ledger.Status) error
	MarkFailed(ctx context.Context, id, reason string) error
	Release(ctx context.Context, id, runID string) error
}

// Refresher renews the destination's credentials after an auth rejection.
type Refresher interface {
	Refresh(ctx context.Context, service string) (credentials.Credentials, error)
}

type Options struct {
	Source      source.Connector
	Rates       transform.RateTable
	Rounding    transform.Rounding
	Destination Destination
	Ledger      Ledger
	Credentials Refresher

	Workers        int
	Retry          retry.Policy
	RequestTimeout time.Duration
	ClaimLease     time.Duration
	Reconcile      string
	DryRun         bool
	RunID          string

	Metrics *metrics.Recorder
	Logger  zerolog.Logger
}

type Summary struct {
	RunID    string
	DryRun   bool
	Started  time.Time
	Duration time.Duration

	Fetched    int
	Recorded   int
	Reconciled int
	Skipped    int
	Failed     int
	Cancelled  int
	// Pending counts entries a dry run would submit.
	Pending int

	ParseErrors []source.ParseError
	Failures    []Failure
	Tasks       []Task
}

// OK is false when any row or entry did not make it.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Cancelled == 0 && len(s.ParseErrors) == 0
}

type runner struct {
	opts  Options
	runID string
	log   zerolog.Logger
}

// Run executes one sync. A non-nil error means the run was aborted; the
// summary still describes the entries processed so far.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Source == nil {
		return Summary{}, errors.New("source is required")
	}
	if opts.Ledger == nil {
		return Summary{}, errors.New("ledger is required")
	}
	if opts.Destination == nil && !opts.DryRun {
		return Summary{}, errors.New("destination is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = defaultClaimLease
	}
	if opts.Reconcile == "" {
		opts.Reconcile = ReconcileAuto
	}

	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = ulid.Make().String()
	}
	r := &runner{
		opts:  opts,
		runID: runID,
		log:   opts.Logger.With().Str("run", runID).Logger(),
	}

	summary := Summary{RunID: runID, DryRun: opts.DryRun, Started: time.Now()}

	entries, parseErrors, err := source.Collect(ctx, opts.Source)
	summary.ParseErrors = parseErrors
	summary.Fetched = len(entries)
	if err != nil {
		summary.Duration = time.Since(summary.Started)
		return summary, fmt.Errorf("fetch entries: %w", err)
	}
	for _, parseErr := range parseErrors {
		r.log.Warn().Int("row", parseErr.Row).Str("reason", parseErr.Reason).Msg("skipped source row")
	}
	r.log.Info().Int("entries", len(entries)).Int("parse_errors", len(parseErrors)).Msg("fetched entries")

	tasks := make([]Task, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		tasks[i] = Task{Entry: entry, State: StateFetched}
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		if seen[id] {
			tasks[i].skip("duplicate in input")
			r.log.Warn().Str("entry", id).Msg("duplicate entry id in input")
			continue
		}
		seen[id] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range tasks {
		if tasks[i].State == StateSkipped {
			continue
		}
		if gctx.Err() != nil {
			tasks[i].cancel("dispatch", context.Cause(gctx))
			continue
		}
		task := &tasks[i]
		g.Go(func() error {
			return r.process(gctx, task)
		})
	}
	runErr := g.Wait()

	summary.Tasks = tasks
	for _, task := range tasks {
		opts.Metrics.EntryState(task.State.String())
		switch task.State {
		case StateRecorded:
			summary.Recorded++
			if task.Reconciled {
				summary.Reconciled++
			}
		case StateSkipped:
			summary.Skipped++
		case StateFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, task.failure())
		case StateCancelled:
			summary.Cancelled++
		case StateCheckedAgainstLedger:
			summary.Pending++
		}
	}

	summary.Duration = time.Since(summary.Started)
	r.log.Info().
		Int("recorded", summary.Recorded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Msg("sync finished")

	return summary, runErr
}

// process moves one task to a terminal state. Only ledger failures are
// returned; they abort the run.
func (r *runner) process(ctx context.Context, task *Task) error {
	entry := task.Entry
	log := r.log.With().Str("entry", entry.ID).Logger()

	if ctx.Err() != nil {
		task.cancel("dispatch", context.Cause(ctx))
		return nil
	}

	// The ledger is consulted first so a submitted entry stays skipped even
	// when its current rates no longer price it.
	if id := strings.TrimSpace(entry.ID); id != "" {
		has, err := r.opts.Ledger.Has(ctx, id)
		if err != nil {
			return r.abort(ctx, task, "ledger", err)
		}
		if has {
			task.skip("already submitted")
			log.Debug().Msg("entry already submitted")
			return nil
		}
	}

	item, err := transform.Transform(entry, r.opts.Rates, r.opts.Rounding)
	if err != nil {
		task.fail("transform", err)
		log.Warn().Err(err).Msg("entry failed")
		if strings.TrimSpace(entry.ID) == "" || r.opts.DryRun {
			return nil
		}
		return r.markFailed(ctx, task)
	}
	task.Item = item
	task.State = StateTransformed

	if r.opts.DryRun {
		task.State = StateCheckedAgainstLedger
		return nil
	}

	claim, err := r.opts.Ledger.Claim(ctx, item.SourceEntryID, item.IdempotencyToken, r.runID, r.opts.ClaimLease)
	if err != nil {
		return r.abort(ctx, task, "ledger", err)
	}
	if !claim.Acquired {
		switch claim.HeldBy {
		case "":
			task.skip("already submitted")
		case r.runID:
			task.skip("duplicate in input")
		default:
			task.skip("claimed by another run")
		}
		log.Debug().Str("held_by", claim.HeldBy).Msg("entry not claimed")
		return nil
	}
	task.State = StateCheckedAgainstLedger

	if claim.TookOver || claim.Previous == ledger.StatusFailed || r.opts.Reconcile == ReconcileAlways {
		id, found, err := r.lookup(ctx, item)
		switch {
		case err != nil && ctx.Err() != nil:
			task.cancel("reconcile", err)
			return r.release(ctx, task)
		case err != nil:
			task.fail("reconcile", err)
			log.Warn().Err(err).Msg("lookup failed")
			return r.markFailed(ctx, task)
		case found:
			log.Info().Str("destination_id", id).Msg("entry already present at destination")
			task.State = StateSubmitted
			task.DestinationID = id
			task.Reconciled = true
			return r.record(ctx, task)
		}
	}

	id, attempts, err := r.submit(ctx, item)
	task.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil && syncerr.KindOf(err).Retryable() {
			task.cancel("submit", err)
			// An attempt was made, so the next run reconciles before submitting.
			return r.markFailed(ctx, task)
		}
		if errors.Is(err, context.Canceled) {
			task.cancel("submit", err)
			return r.release(ctx, task)
		}
		task.fail("submit", err)
		log.Warn().Err(err).Int("attempts", attempts).Msg("entry failed")
		return r.markFailed(ctx, task)
	}

	task.State = StateSubmitted
	task.DestinationID = id
	return r.record(ctx, task)
}

// submit retries transient failures and refreshes credentials once after an
// auth rejection.
func (r *runner) submit(ctx context.Context, item transform.LineItem) (string, int, error) {
	var (
		id        string
		total     int
		refreshed bool
	)
	for {
		attempts, err := r.opts.Retry.Do(ctx, func(attempt int) error {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.RequestTimeout)
			defer cancel()

			started := time.Now()
			var err error
			id, err = r.opts.Destination.Submit(callCtx, item)
			r.opts.Metrics.SubmitAttempt(attemptOutcome(err), time.Since(started))
			if err != nil && syncerr.KindOf(err).Retryable() {
				r.log.Debug().Err(err).Str("entry", item.SourceEntryID).Int("attempt", attempt).Msg("submit attempt failed")
			}
			return err
		})
		total += attempts
		if err == nil {
			return id, total, nil
		}
		if !syncerr.Is(err, syncerr.KindAuth) || refreshed || r.opts.Credentials == nil {
			return "", total, err
		}

		refreshed = true
		r.log.Info().Msg("destination rejected token, refreshing")
		if _, refreshErr := r.opts.Credentials.Refresh(ctx, credentials.ServiceFreshBooks); refreshErr != nil {
			return "", total, fmt.Errorf("%w (refresh failed: %v)", err, refreshErr)
		}
	}
}

func (r *runner) lookup(ctx context.Context, item transform.LineItem) (string, bool, error) {
	var (
		id    string
		found bool
	)
	_, err := r.opts.Retry.Do(ctx, func(int) error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()

		var err error
		id, found, err = r.opts.Destination.Lookup(callCtx, item)
		return err
	})
	return id, found, err
}

func (r *runner) record(ctx context.Context, task *Task) error {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.opts.Ledger.Record(recordCtx, task.Item.SourceEntryID, task.DestinationID, ledger.StatusSubmitted); err != nil {
		task.fail("record", err)
		r.log.Error().Err(err).Str("entry", task.Item.SourceEntryID).Str("destination_id", task.DestinationID).Msg("submitted entry could not be recorded")
		return fmt.Errorf("record entry %s: %w", task.Item.SourceEntryID, err)
	}
	task.Item.DestinationInvoiceID = task.DestinationID
	task.State = StateRecorded
	return nil
}

func (r *runner) markFailed(ctx context.Context, task *Task) error {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.opts.Ledger.MarkFailed(markCtx, task.Entry.ID, task.Reason); err != nil {
		return fmt.Errorf("mark entry %s failed: %w", task.Entry.ID, err)
	}
	return nil
}

func (r *runner) release(ctx context.Context, task *Task) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.opts.Ledger.Release(releaseCtx, task.Entry.ID, r.runID); err != nil {
		return fmt.Errorf("release entry %s: %w", task.Entry.ID, err)
	}
	return nil
}

// abort handles ledger read failures. Cancellation is not a ledger fault.
func (r *runner) abort(ctx context.Context, task *Task, stage string, err error) error {
	if ctx.Err() != nil {
		task.cancel(stage, err)
		return nil
	}
	task.fail(stage, err)
	return err
}

func attemptOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return syncerr.KindOf(err).String()
}

// Plan transforms entries without touching the ledger or the destination.
func Plan(entries []worklog.TimeEntry, rates transform.RateTable, rounding transform.Rounding) ([]transform.LineItem, []Failure) {
	items := make([]transform.LineItem, 0, len(entries))
	failures := make([]Failure, 0)
	for _, entry := range entries {
		item, err := transform.Transform(entry, rates, rounding)
		if err != nil {
			failures = append(failures, Failure{
				EntryID: entry.ID,
				Stage:   "transform",
				Kind:    syncerr.KindOf(err),
				Reason:  err.Error(),
			})
			continue
		}
		items = append(items, item)
	}
	return items, failures
}
