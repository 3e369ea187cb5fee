package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"timebill/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestOpen_IsIdempotent(t *testing.T) {
	t.Parallel()

	l, path := openTestLedger(t)
	require.NoError(t, l.Record(context.Background(), "e1", "fb-1", StatusSubmitted))
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	has, err := reopened.Has(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestHas_OnlySubmittedCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)

	has, err := l.Has(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, has)

	claim, err := l.Claim(ctx, "e1", "tok-1", "run-a", time.Minute)
	require.NoError(t, err)
	require.True(t, claim.Acquired)

	has, err = l.Has(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, has, "pending must not count as submitted")

	require.NoError(t, l.Record(ctx, "e1", "fb-1", StatusSubmitted))
	has, err = l.Has(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, has)

	entry, err := l.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", entry.IdempotencyToken)
	assert.Equal(t, "run-a", entry.RunID)
	assert.Equal(t, "fb-1", entry.DestinationLineItemID)
	assert.False(t, entry.SubmittedAt.IsZero())
}

func TestRecord_RefusesDifferentDestination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)

	require.NoError(t, l.Record(ctx, "e1", "fb-1", StatusSubmitted))
	require.NoError(t, l.Record(ctx, "e1", "fb-1", StatusSubmitted), "same destination is a no-op")

	err := l.Record(ctx, "e1", "fb-2", StatusSubmitted)
	require.ErrorIs(t, err, ErrConflict)
	assert.True(t, syncerr.Is(err, syncerr.KindLedger))

	err = l.Record(ctx, "e1", "", StatusFailed)
	require.ErrorIs(t, err, ErrConflict)
}

func TestRecord_RequiresDestinationForSubmitted(t *testing.T) {
	t.Parallel()

	l, _ := openTestLedger(t)
	err := l.Record(context.Background(), "e1", "", StatusSubmitted)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindLedger))
}

func TestMarkFailed_NeverDowngradesAndCanBeRerecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)

	require.NoError(t, l.MarkFailed(ctx, "e1", "network error"))
	entry, err := l.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, "network error", entry.Reason)

	require.NoError(t, l.Record(ctx, "e1", "fb-1", StatusSubmitted))
	require.NoError(t, l.MarkFailed(ctx, "e1", "late failure"))

	entry, err = l.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, entry.Status)
	assert.Equal(t, "fb-1", entry.DestinationLineItemID)
}

func TestClaim_RespectsLiveLeaseAndTakesOverExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	first, err := l.Claim(ctx, "e1", "tok", "run-a", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, first.Acquired)
	assert.Equal(t, Status(""), first.Previous)

	blocked, err := l.Claim(ctx, "e1", "tok", "run-b", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, blocked.Acquired)
	assert.Equal(t, "run-a", blocked.HeldBy)

	again, err := l.Claim(ctx, "e1", "tok", "run-a", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, again.Acquired, "a live claim is not granted twice to the same run")
	assert.Equal(t, "run-a", again.HeldBy)

	now = now.Add(11 * time.Minute)
	takeover, err := l.Claim(ctx, "e1", "tok", "run-b", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, takeover.Acquired)
	assert.True(t, takeover.TookOver)
	assert.Equal(t, StatusPending, takeover.Previous)

	entry, err := l.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "run-b", entry.RunID)
	assert.Equal(t, 2, entry.Attempts)
}

func TestClaim_SameRunIsBlockedUntilItsLeaseExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	first, err := l.Claim(ctx, "dup-1", "tok", "run-a", time.Minute)
	require.NoError(t, err)
	require.True(t, first.Acquired)

	second, err := l.Claim(ctx, "dup-1", "tok", "run-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Equal(t, "run-a", second.HeldBy)

	now = now.Add(2 * time.Minute)
	renewed, err := l.Claim(ctx, "dup-1", "tok", "run-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed.Acquired)
	assert.False(t, renewed.TookOver)

	entry, err := l.Get(ctx, "dup-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Attempts)
}

func TestClaim_SubmittedIsNeverReclaimed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)
	require.NoError(t, l.Record(ctx, "e1", "fb-1", StatusSubmitted))

	claim, err := l.Claim(ctx, "e1", "tok", "run-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, claim.Acquired)
	assert.Equal(t, StatusSubmitted, claim.Previous)
}

func TestClaim_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, path := openTestLedger(t)
	other, err := Open(path)
	require.NoError(t, err)
	defer other.Close()

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := l
			if i%2 == 1 {
				handle = other
			}
			claim, err := handle.Claim(ctx, "shared", "tok", fmt.Sprintf("run-%d", i), time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if claim.Acquired {
				winners++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, winners)
}

func TestRelease_DropsFirstClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)

	_, err := l.Claim(ctx, "e1", "tok", "run-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "e1", "run-b"), "other runs cannot release")

	_, err = l.Get(ctx, "e1")
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, "e1", "run-a"))
	_, err = l.Get(ctx, "e1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvents_RecordAuditTrail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)

	_, err := l.Claim(ctx, "e1", "tok", "run-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.MarkFailed(ctx, "e1", "timeout"))
	_, err = l.Claim(ctx, "e1", "tok", "run-b", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, "e1", "fb-9", StatusSubmitted))

	events, err := l.Events(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, []Status{StatusPending, StatusFailed, StatusPending, StatusSubmitted},
		[]Status{events[0].Status, events[1].Status, events[2].Status, events[3].Status})
	assert.Equal(t, "timeout", events[1].Reason)
	assert.Equal(t, "fb-9", events[3].DestinationLineItemID)
	assert.Equal(t, "run-b", events[3].RunID)
}

func TestList_FiltersByStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openTestLedger(t)
	require.NoError(t, l.Record(ctx, "e1", "fb-1", StatusSubmitted))
	require.NoError(t, l.Record(ctx, "e2", "fb-2", StatusSubmitted))
	require.NoError(t, l.MarkFailed(ctx, "e3", "boom"))

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := l.List(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "e3", failed[0].SourceEntryID)

	limited, err := l.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
