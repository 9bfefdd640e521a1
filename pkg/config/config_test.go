package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":8081", cfg.Server.MetricsAddr)
	assert.Equal(t, ":9091", cfg.Worker.MetricsAddr)
	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 4*time.Minute, cfg.Worker.SoftTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Worker.HardTimeout)
	assert.Equal(t, "gemini-1.5-flash", cfg.Compute.Model)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/jobs")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("GOOGLE_API_KEY", "k")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/jobs", cfg.Postgres.URL)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, "k", cfg.Compute.APIKey)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  ttl: 90s
queue:
  backend: local
compute:
  provider: echo
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "local", cfg.Queue.Backend)
	assert.Equal(t, "echo", cfg.Compute.Provider)
}

func TestValidateRejectsPostgresWithoutURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsInvertedTimeouts(t *testing.T) {
	t.Setenv("WORKER_SOFT_TIMEOUT", "10m")
	_, err := Load("")
	assert.Error(t, err)
}
