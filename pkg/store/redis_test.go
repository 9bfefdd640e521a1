package store

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"job-coordinator/pkg/job"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rc.Close() })
	return NewRedis(rc), mr
}

func pendingJob(id string, created time.Time) *job.Job {
	return &job.Job{
		ID:        id,
		Kind:      job.KindEcho,
		Status:    job.StatusPending,
		CreatedAt: created.UTC(),
		Payload:   json.RawMessage(`{"x":1}`),
	}
}

func TestRedisInsertGet(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	j := pendingJob("a", time.Now())

	require.NoError(t, s.Insert(ctx, j))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.JSONEq(t, `{"x":1}`, string(got.Payload))
	assert.Nil(t, got.CompletedAt)

	assert.Equal(t, "pending", mr.HGet("job:a", "status"))
	assert.Error(t, s.Insert(ctx, j), "duplicate insert must fail")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestRedisCompareAndSwap(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	j := pendingJob("a", time.Now())
	require.NoError(t, s.Insert(ctx, j))

	next := j.Clone()
	next.Status = job.StatusProcessing
	ok, err := s.CompareAndSwap(ctx, job.StatusPending, next)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := j.Clone()
	stale.Status = job.StatusProcessing
	ok, err = s.CompareAndSwap(ctx, job.StatusPending, stale)
	require.NoError(t, err)
	assert.False(t, ok, "swap from a status the job already left must fail")

	missing := pendingJob("nope", time.Now())
	_, err = s.CompareAndSwap(ctx, job.StatusPending, missing)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestRedisCompareAndSwapExactlyOnce(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	j := pendingJob("a", time.Now())
	j.Status = job.StatusProcessing
	require.NoError(t, s.Insert(ctx, j))

	const writers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := j.Clone()
			next.Status = job.StatusCompleted
			next.Result, _ = json.Marshal(map[string]int{"writer": i})
			ok, err := s.CompareAndSwap(ctx, job.StatusProcessing, next)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisListPending(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	old1 := pendingJob("old1", base)
	old2 := pendingJob("old2", base.Add(time.Minute))
	fresh := pendingJob("fresh", time.Now())
	for _, j := range []*job.Job{old1, old2, fresh} {
		require.NoError(t, s.Insert(ctx, j))
	}

	claimed := old2.Clone()
	claimed.Status = job.StatusProcessing
	ok, err := s.CompareAndSwap(ctx, job.StatusPending, claimed)
	require.NoError(t, err)
	require.True(t, ok)

	jobs, err := s.ListPending(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "old1", jobs[0].ID)

	jobs, err = s.ListPending(ctx, time.Now().Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRedisUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	ctx := context.Background()

	err := s.Insert(ctx, pendingJob("a", time.Now()))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, job.ErrNotFound)
	assert.Error(t, s.Ping(ctx))
}

func TestRedisListPendingSkipsCorruptRecord(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.Insert(ctx, pendingJob("good", base.Add(time.Minute))))
	mr.HSet(jobKey("broken"), "status", "pending", "data", "{not json")
	_, err := mr.ZAdd(pendingKey, float64(base.UnixNano()), "broken")
	require.NoError(t, err)

	_, err = s.Get(ctx, "broken")
	assert.ErrorIs(t, err, errCorruptRecord)

	jobs, err := s.ListPending(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "good", jobs[0].ID)
}
