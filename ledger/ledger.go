// Package ledger is the durable record of which source entries were already
// submitted downstream. At most one row exists per source entry id.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"timebill/internal/syncerr"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound = errors.New("ledger entry not found")
	// ErrConflict is returned when a write would overwrite a submitted row
	// with a different destination id.
	ErrConflict = errors.New("ledger entry already submitted with a different destination id")
)

type Entry struct {
	SourceEntryID         string
	DestinationLineItemID string
	IdempotencyToken      string
	Status                Status
	Reason                string
	RunID                 string
	Attempts              int
	LeaseUntil            time.Time
	SubmittedAt           time.Time
	UpdatedAt             time.Time
}

type Event struct {
	ID                    int64
	SourceEntryID         string
	Status                Status
	DestinationLineItemID string
	Reason                string
	RunID                 string
	CreatedAt             time.Time
}

// Claim is the outcome of Ledger.Claim.
type Claim struct {
	Acquired bool
	// Previous is the status found before the claim; empty for new rows.
	Previous Status
	// TookOver is set when an expired pending claim of another run was taken.
	// That run may have submitted without recording.
	TookOver bool
	// HeldBy is the run id of a live claim that blocked this one.
	HeldBy string
}

type Filter struct {
	Status Status
	Limit  int
}

type Ledger struct {
	db *sql.DB
	// mu serializes writers of this process; BEGIN IMMEDIATE serializes
	// writers across processes.
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the ledger database at path and applies migrations.
func Open(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, syncerr.Ledger(errors.New("ledger path is required"))
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, syncerr.Ledger(fmt.Errorf("open sqlite db: %w", err))
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, syncerr.Ledger(fmt.Errorf("ping sqlite db: %w", err))
	}

	l := &Ledger{db: db, now: time.Now}
	if err := l.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, syncerr.Ledger(err)
	}
	return l, nil
}

func dsn(path string) string {
	query := url.Values{}
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "synchronous(NORMAL)")
	query.Set("_txlock", "immediate")
	return "file:" + path + "?" + query.Encode()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Has reports whether id was already submitted. Pending and failed rows do
// not count.
func (l *Ledger) Has(ctx context.Context, id string) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM ledger_entries WHERE source_entry_id = ?;`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, syncerr.Ledger(fmt.Errorf("query ledger entry %s: %w", id, err))
	}
	return Status(status) == StatusSubmitted, nil
}

// Claim marks id as pending for runID until the lease expires. It fails to
// acquire when the entry is submitted or any run, including runID, holds a
// live claim.
func (l *Ledger) Claim(ctx context.Context, id, token, runID string, lease time.Duration) (Claim, error) {
	var claim Claim
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		now := l.now().UTC()
		current, found, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}

		attempts := 1
		if found {
			claim.Previous = current.Status
			attempts = current.Attempts + 1
			switch current.Status {
			case StatusSubmitted:
				return nil
			case StatusPending:
				// A live lease blocks every claimant, including its own run.
				if now.Before(current.LeaseUntil) {
					claim.HeldBy = current.RunID
					return nil
				}
				if current.RunID == runID {
					attempts = current.Attempts
				} else {
					claim.TookOver = true
				}
			}
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO ledger_entries (
	source_entry_id, idempotency_token, status, reason, run_id, attempts, lease_until, updated_at
) VALUES (?, ?, 'pending', '', ?, ?, ?, ?)
ON CONFLICT(source_entry_id) DO UPDATE SET
	idempotency_token = excluded.idempotency_token,
	status = 'pending',
	reason = '',
	run_id = excluded.run_id,
	attempts = excluded.attempts,
	lease_until = excluded.lease_until,
	updated_at = excluded.updated_at;`,
			id, token, runID, attempts, formatTime(now.Add(lease)), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("claim ledger entry %s: %w", id, err)
		}
		claim.Acquired = true
		reason := ""
		if claim.TookOver {
			reason = "took over expired claim of run " + current.RunID
		}
		return appendEvent(ctx, tx, id, StatusPending, "", reason, runID, now)
	})
	if err != nil {
		return Claim{}, err
	}
	return claim, nil
}

// Record stores the outcome for id. Re-recording the same destination id is a
// no-op; a different destination id for a submitted row is ErrConflict.
func (l *Ledger) Record(ctx context.Context, id, destinationLineItemID string, status Status) error {
	switch status {
	case StatusSubmitted:
		if strings.TrimSpace(destinationLineItemID) == "" {
			return syncerr.Ledger(fmt.Errorf("record %s: destination id is required for submitted entries", id))
		}
	case StatusPending, StatusFailed:
	default:
		return syncerr.Ledger(fmt.Errorf("record %s: unknown status %q", id, status))
	}

	return l.withTx(ctx, func(tx *sql.Tx) error {
		now := l.now().UTC()
		current, found, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if found && current.Status == StatusSubmitted {
			if status == StatusSubmitted && current.DestinationLineItemID == destinationLineItemID {
				return nil
			}
			return fmt.Errorf("record %s as %s: %w", id, status, ErrConflict)
		}

		submittedAt := ""
		if status == StatusSubmitted {
			submittedAt = formatTime(now)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO ledger_entries (
	source_entry_id, destination_line_item_id, status, reason, submitted_at, lease_until, updated_at
) VALUES (?, ?, ?, '', ?, '', ?)
ON CONFLICT(source_entry_id) DO UPDATE SET
	destination_line_item_id = excluded.destination_line_item_id,
	status = excluded.status,
	reason = '',
	submitted_at = excluded.submitted_at,
	lease_until = '',
	updated_at = excluded.updated_at;`,
			id, destinationLineItemID, string(status), submittedAt, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("record ledger entry %s: %w", id, err)
		}
		runID := ""
		if found {
			runID = current.RunID
		}
		return appendEvent(ctx, tx, id, status, destinationLineItemID, "", runID, now)
	})
}

// MarkFailed stores reason for id. A submitted row is left untouched.
func (l *Ledger) MarkFailed(ctx context.Context, id, reason string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		now := l.now().UTC()
		current, found, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if found && current.Status == StatusSubmitted {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO ledger_entries (
	source_entry_id, status, reason, lease_until, updated_at
) VALUES (?, 'failed', ?, '', ?)
ON CONFLICT(source_entry_id) DO UPDATE SET
	status = 'failed',
	reason = excluded.reason,
	lease_until = '',
	updated_at = excluded.updated_at;`,
			id, reason, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("mark ledger entry %s failed: %w", id, err)
		}
		runID := ""
		if found {
			runID = current.RunID
		}
		return appendEvent(ctx, tx, id, StatusFailed, "", reason, runID, now)
	})
}

// Release drops a pending claim of runID that never reached submission.
func (l *Ledger) Release(ctx context.Context, id, runID string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		current, found, err := getEntry(ctx, tx, id)
		if err != nil || !found {
			return err
		}
		if current.Status != StatusPending || current.RunID != runID {
			return nil
		}

		if current.Attempts > 1 {
			// Earlier attempts exist, so the row stays as failed.
			if _, err := tx.ExecContext(ctx,
				`UPDATE ledger_entries SET status = 'failed', reason = 'released', lease_until = '', updated_at = ? WHERE source_entry_id = ?;`,
				formatTime(l.now().UTC()), id,
			); err != nil {
				return fmt.Errorf("release ledger entry %s: %w", id, err)
			}
		} else if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE source_entry_id = ?;`, id); err != nil {
			return fmt.Errorf("release ledger entry %s: %w", id, err)
		}
		return appendEvent(ctx, tx, id, StatusFailed, "", "released", runID, l.now().UTC())
	})
}

func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	entry, found, err := getEntry(ctx, l.db, id)
	if err != nil {
		return Entry{}, syncerr.Ledger(err)
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (l *Ledger) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	args := make([]any, 0, 2)
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC, source_entry_id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, syncerr.Ledger(fmt.Errorf("list ledger entries: %w", err))
	}
	defer rows.Close()

	entries := make([]Entry, 0, 64)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, syncerr.Ledger(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Ledger(fmt.Errorf("iterate ledger entries: %w", err))
	}
	return entries, nil
}

func (l *Ledger) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, source_entry_id, status, destination_line_item_id, reason, run_id, created_at
FROM ledger_events
WHERE source_entry_id = ?
ORDER BY id ASC;`, id)
	if err != nil {
		return nil, syncerr.Ledger(fmt.Errorf("list ledger events: %w", err))
	}
	defer rows.Close()

	events := make([]Event, 0, 8)
	for rows.Next() {
		var (
			event     Event
			status    string
			createdAt string
		)
		if err := rows.Scan(&event.ID, &event.SourceEntryID, &status, &event.DestinationLineItemID, &event.Reason, &event.RunID, &createdAt); err != nil {
			return nil, syncerr.Ledger(fmt.Errorf("scan ledger event: %w", err))
		}
		event.Status = Status(status)
		event.CreatedAt = parseTime(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Ledger(fmt.Errorf("iterate ledger events: %w", err))
	}
	return events, nil
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.Ledger(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return syncerr.Ledger(err)
	}
	if err := tx.Commit(); err != nil {
		return syncerr.Ledger(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const entryColumns = `source_entry_id, destination_line_item_id, idempotency_token, status, reason, run_id, attempts, lease_until, submitted_at, updated_at`

func getEntry(ctx context.Context, q queryer, id string) (Entry, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE source_entry_id = ?;`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry                              Entry
		status                             string
		leaseUntil, submittedAt, updatedAt string
	)
	err := row.Scan(
		&entry.SourceEntryID,
		&entry.DestinationLineItemID,
		&entry.IdempotencyToken,
		&status,
		&entry.Reason,
		&entry.RunID,
		&entry.Attempts,
		&leaseUntil,
		&submittedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan ledger entry: %w", err)
	}
	entry.Status = Status(status)
	entry.LeaseUntil = parseTime(leaseUntil)
	entry.SubmittedAt = parseTime(submittedAt)
	entry.UpdatedAt = parseTime(updatedAt)
	return entry, nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, id string, status Status, destinationID, reason, runID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO ledger_events (source_entry_id, status, destination_line_item_id, reason, run_id, created_at)
VALUES (?, ?, ?, ?, ?, ?);`,
		id, string(status), destinationID, reason, runID, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("append ledger event for %s: %w", id, err)
	}
	return nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
