package pipeline

import (
	"timebill/internal/syncerr"
	"timebill/transform"
	"timebill/worklog"
)

type State int

const (
	StateFetched State = iota
	StateTransformed
	StateCheckedAgainstLedger
	StateSubmitted
	StateRecorded
	StateSkipped
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateFetched:
		return "fetched"
	case StateTransformed:
		return "transformed"
	case StateCheckedAgainstLedger:
		return "checked"
	case StateSubmitted:
		return "submitted"
	case StateRecorded:
		return "recorded"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateRecorded, StateSkipped, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Task tracks one entry through the sync.
type Task struct {
	Entry         worklog.TimeEntry
	State         State
	Item          transform.LineItem
	Attempts      int
	DestinationID string
	// Reconciled is set when the destination already had the entry.
	Reconciled bool
	Stage      string
	Reason     string
	Err        error
}

type Failure struct {
	EntryID string
	Stage   string
	Kind    syncerr.Kind
	Reason  string
}

func (t *Task) skip(reason string) {
	t.State = StateSkipped
	t.Reason = reason
}

func (t *Task) fail(stage string, err error) {
	t.State = StateFailed
	t.Stage = stage
	t.Err = err
	t.Reason = err.Error()
}

func (t *Task) cancel(stage string, err error) {
	t.State = StateCancelled
	t.Stage = stage
	t.Err = err
	if err != nil {
		t.Reason = err.Error()
	}
}

func (t Task) failure() Failure {
	return Failure{
		EntryID: t.Entry.ID,
		Stage:   t.Stage,
		Kind:    syncerr.KindOf(t.Err),
		Reason:  t.Reason,
	}
}
