package app

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"job-coordinator/pkg/config"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/queue"
	"job-coordinator/pkg/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://"+redisAddr+"/0")
	t.Setenv("COMPUTE_PROVIDER", "echo")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewWiresRedisBackedComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(t, mr.Addr()), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Store.(*store.Redis)
	assert.True(t, ok)
	require.NoError(t, a.InitSchema(ctx))
	require.NoError(t, a.WithExecutor(ctx))

	id, err := a.Jobs.Create(ctx, job.KindEcho, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, a.Processor().Handle(ctx, queue.Task{JobID: id, Kind: job.KindEcho}))

	j, err := a.Jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.JSONEq(t, `{"n":1,"task_type":"echo"}`, string(j.Result))
}

func TestNewToleratesUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	mr.Close()

	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.False(t, a.Cache.Set(context.Background(), "k", "v"))
	assert.NoError(t, a.Close())
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.Compute.Provider = "gemini"
	cfg.Compute.APIKey = ""

	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()
	assert.Error(t, a.WithExecutor(context.Background()))
}
