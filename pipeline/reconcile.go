package pipeline

import (
	"context"
	"errors"
	"fmt"

	"timebill/ledger"
	"timebill/source"
	"timebill/transform"

	"github.com/rs/zerolog"
)

type ReconcileLedger interface {
	Get(ctx context.Context, id string) (ledger.Entry, error)
	Record(ctx context.Context, id, destinationLineItemID string, status ledger.Status) error
}

type ReconcileOptions struct {
	Source      source.Connector
	Rates       transform.RateTable
	Rounding    transform.Rounding
	Destination Destination
	Ledger      ReconcileLedger
	Logger      zerolog.Logger
}

type ReconcileResult struct {
	Checked  int
	Found    int
	Missing  int
	Unpriced int
}

// Reconcile looks up every pending or failed ledger row of the source at the
// destination and records the ones that were submitted after all.
func Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileResult, error) {
	result := ReconcileResult{}
	if opts.Source == nil || opts.Destination == nil || opts.Ledger == nil {
		return result, errors.New("source, destination and ledger are required")
	}

	entries, _, err := source.Collect(ctx, opts.Source)
	if err != nil {
		return result, fmt.Errorf("fetch entries: %w", err)
	}

	for _, entry := range entries {
		current, err := opts.Ledger.Get(ctx, entry.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return result, err
		}
		if current.Status == ledger.StatusSubmitted {
			continue
		}

		item, err := transform.Transform(entry, opts.Rates, opts.Rounding)
		if err != nil {
			result.Unpriced++
			opts.Logger.Debug().Err(err).Str("entry", entry.ID).Msg("cannot reconcile entry")
			continue
		}

		result.Checked++
		id, found, err := opts.Destination.Lookup(ctx, item)
		if err != nil {
			return result, fmt.Errorf("lookup entry %s: %w", entry.ID, err)
		}
		if !found {
			result.Missing++
			continue
		}
		if err := opts.Ledger.Record(ctx, entry.ID, id, ledger.StatusSubmitted); err != nil {
			return result, err
		}
		result.Found++
		opts.Logger.Info().Str("entry", entry.ID).Str("destination_id", id).Msg("reconciled entry")
	}
	return result, nil
}
