package jobs

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func createTestJob(t *testing.T, store *Store, jobID string) *Job {
	t.Helper()
	job, existing, err := store.CreateJob(context.Background(), jobID,
		Config{Kind: "scholarly_run"}, "deadbeef", "", t.TempDir())
	require.NoError(t, err)
	require.False(t, existing)
	return job
}

func TestStore_SequenceMonotonicAndGapFree(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	for i := 0; i < 10; i++ {
		_, err := store.PersistEvent(ctx, &Event{JobID: "j1", Kind: EventLog, Message: "tick"})
		require.NoError(t, err)
	}

	events, err := store.EventsSince(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.SequenceNumber, "global sequence must be gap-free from 1")
		assert.Equal(t, int64(i+1), ev.JobSequence, "per-job sequence must be gap-free from 1")
	}
}

func TestStore_PerJobSequenceIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")
	createTestJob(t, store, "j2")

	_, err := store.PersistEvent(ctx, &Event{JobID: "j1", Kind: EventLog})
	require.NoError(t, err)
	_, err = store.PersistEvent(ctx, &Event{JobID: "j2", Kind: EventLog})
	require.NoError(t, err)
	_, err = store.PersistEvent(ctx, &Event{JobID: "j1", Kind: EventLog})
	require.NoError(t, err)

	j1Events, err := store.EventsSince(ctx, 0, "j1")
	require.NoError(t, err)
	require.Len(t, j1Events, 2)
	assert.Equal(t, int64(1), j1Events[0].JobSequence)
	assert.Equal(t, int64(2), j1Events[1].JobSequence)

	j2Events, err := store.EventsSince(ctx, 0, "j2")
	require.NoError(t, err)
	require.Len(t, j2Events, 1)
	assert.Equal(t, int64(1), j2Events[0].JobSequence)
}

func TestStore_PersistBeforeSend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	ev := &Event{JobID: "j1", Kind: EventProgress, Phase: "translate"}
	_, err := store.PersistEvent(ctx, ev)
	require.NoError(t, err)

	// The moment PersistEvent returns, a reader must already see the row.
	replayed, err := store.EventsSince(ctx, ev.SequenceNumber-1, "")
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, ev.SequenceNumber, replayed[0].SequenceNumber)
	assert.Equal(t, "translate", replayed[0].Phase)
}

func TestStore_ReplayFromCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	for i := 0; i < 5; i++ {
		_, err := store.PersistEvent(ctx, &Event{JobID: "j1", Kind: EventLog})
		require.NoError(t, err)
	}

	// Last-Event-ID and resume_from share this one query; both must return
	// exactly the events after the cursor, ascending.
	events, err := store.EventsSince(ctx, 3, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].SequenceNumber)
	assert.Equal(t, int64(5), events[1].SequenceNumber)
}

func TestStore_ClaimJob_OnlyOneWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	first, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	second, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second, "a job claimed once must not be claimable again")

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, job.State)
	assert.NotNil(t, job.StartedAt)
}

func TestStore_ReleaseClaim_RequeuesRunningJob(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	claimed, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.ReleaseClaim(ctx, "j1"))
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, job.State)
	assert.Nil(t, job.StartedAt)

	reclaimed, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestStore_IdempotencyKeyReturnsExistingJob(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, existing, err := store.CreateJob(ctx, "j1", Config{Kind: "scholarly_run"}, "h1", "key-1", t.TempDir())
	require.NoError(t, err)
	require.False(t, existing)

	second, existing, err := store.CreateJob(ctx, "j2", Config{Kind: "scholarly_run"}, "h1", "key-1", t.TempDir())
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestStore_ListJobs_FiltersByState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")
	createTestJob(t, store, "j2")

	claimed, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	require.True(t, claimed)

	queued, err := store.ListJobs(ctx, []State{StateQueued}, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "j2", queued[0].JobID)
}
