package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipehq/docpipe/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Hour), mr
}

func pendingRecord(id string) *model.TaskRecord {
	return &model.TaskRecord{
		TaskID:    id,
		Status:    model.StatusPending,
		Source:    model.Source{URL: "https://example.com/doc.pdf"},
		Options:   model.DefaultOptions(),
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := pendingRecord("t1")
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, rec.Source.URL, got.Source.URL)
	assert.Equal(t, rec.Options, got.Options)
}

func TestCreateDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("t1")))
	err := store.Create(ctx, pendingRecord("t1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwapTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("t1")))
	rec, raw, err := store.Load(ctx, "t1")
	require.NoError(t, err)

	proc := rec.Clone()
	proc.Status = model.StatusProcessing
	proc.AttemptCount = 1
	raw2, ok, err := store.Swap(ctx, "t1", raw, proc, false)
	require.NoError(t, err)
	require.True(t, ok)

	// A second swap against the stale bytes must miss.
	_, ok, err = store.Swap(ctx, "t1", raw, proc, false)
	require.NoError(t, err)
	assert.False(t, ok, "stale compare value must not win")

	done := proc.Clone()
	done.Status = model.StatusCompleted
	now := time.Now().UTC()
	done.CompletedAt = &now
	_, ok, err = store.Swap(ctx, "t1", raw2, done, true)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestSwapMissesAfterDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("t1")))
	rec, raw, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "t1"))

	done := rec.Clone()
	done.Status = model.StatusCompleted
	_, ok, err := store.Swap(ctx, "t1", raw, done, true)
	require.NoError(t, err)
	assert.False(t, ok, "write against a deleted record must be dropped")

	_, err = store.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound, "the swap must not resurrect the key")
}

func TestDeleteMissing(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwapCarriesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("t1")))
	mr.FastForward(30 * time.Minute)

	rec, raw, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	proc := rec.Clone()
	proc.Status = model.StatusProcessing
	_, ok, err := store.Swap(ctx, "t1", raw, proc, false)
	require.NoError(t, err)
	require.True(t, ok)

	// Without a refresh the record still expires on the original clock.
	ttl := mr.TTL("docpipe:task:t1")
	assert.LessOrEqual(t, ttl, 30*time.Minute)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestSwapRefreshesTTLOnTerminal(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("t1")))
	mr.FastForward(30 * time.Minute)

	rec, raw, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	done := rec.Clone()
	done.Status = model.StatusCompleted
	_, ok, err := store.Swap(ctx, "t1", raw, done, true)
	require.NoError(t, err)
	require.True(t, ok)

	ttl := mr.TTL("docpipe:task:t1")
	assert.Greater(t, ttl, 30*time.Minute, "terminal write must restart retention")
}

func TestExpiredRecordIsGone(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRecord("t1")))
	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	batch := &model.BatchRecord{
		BatchID:   "b1",
		TaskIDs:   []string{"t1", "t2"},
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateBatch(ctx, batch))

	got, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, batch.TaskIDs, got.TaskIDs)

	_, err = store.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
