package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"job-coordinator/pkg/coordinator"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/queue"
	"job-coordinator/pkg/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	tasks []queue.Task
	fail  map[string]bool
}

func (r *recorder) Submit(_ context.Context, t queue.Task) error {
	if r.fail[t.JobID] {
		return errors.New("broker unavailable")
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func setup(t *testing.T) (*coordinator.Coordinator, *miniredis.Miniredis, *logrus.Logger) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	log := logrus.New()
	log.SetOutput(io.Discard)
	return coordinator.New(store.NewRedis(rc), log), mr, log
}

func TestRunOnceResubmitsOnlyPendingJobs(t *testing.T) {
	jobs, _, log := setup(t)
	ctx := context.Background()

	pending, err := jobs.Create(ctx, job.KindEcho, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	claimed, err := jobs.Create(ctx, job.KindEcho, json.RawMessage(`{"b":2}`))
	require.NoError(t, err)
	_, err = jobs.Transition(ctx, claimed, job.StatusProcessing, nil, "")
	require.NoError(t, err)

	rec := &recorder{}
	// StaleAfter of zero lists everything created before now.
	r := New(jobs, rec, Config{StaleAfter: 0, BatchSize: 10}, log)
	time.Sleep(time.Millisecond)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.tasks, 1)
	assert.Equal(t, pending, rec.tasks[0].JobID)
	assert.JSONEq(t, `{"a":1}`, string(rec.tasks[0].Payload))
}

func TestRunOnceSkipsFreshJobs(t *testing.T) {
	jobs, _, log := setup(t)
	_, err := jobs.Create(context.Background(), job.KindEcho, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	rec := &recorder{}
	n, err := New(jobs, rec, Config{StaleAfter: time.Hour}, log).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceContinuesPastSubmitFailures(t *testing.T) {
	jobs, _, log := setup(t)
	ctx := context.Background()
	a, err := jobs.Create(ctx, job.KindEcho, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	_, err = jobs.Create(ctx, job.KindEcho, json.RawMessage(`{"b":1}`))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	rec := &recorder{fail: map[string]bool{a: true}}
	n, err := New(jobs, rec, Config{}, log).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnceStorageDown(t *testing.T) {
	jobs, mr, log := setup(t)
	mr.Close()

	_, err := New(jobs, &recorder{}, Config{}, log).RunOnce(context.Background())
	assert.True(t, errors.Is(err, job.ErrStorageUnavailable))
}

func TestRunStopsWithContext(t *testing.T) {
	jobs, _, log := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- New(jobs, &recorder{}, Config{Interval: time.Millisecond}, log).Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
