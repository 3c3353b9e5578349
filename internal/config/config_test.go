package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 8081, c.Server.AdminPort)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, 30*time.Second, c.Saga.StepTimeout)
	assert.Equal(t, 1, c.Saga.MaxRetries)
	assert.Equal(t, "http://llm-service:8000", c.LLM.BaseURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
saga:
  step_timeout: 10s
  max_retries: 2
redis:
  addr: "redis:6380"
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 10*time.Second, c.Saga.StepTimeout)
	assert.Equal(t, 2, c.Saga.MaxRetries)
	assert.Equal(t, "redis:6380", c.Redis.Addr)
	// Omitted values still default.
	assert.Equal(t, 8081, c.Server.AdminPort)
	assert.Equal(t, 5432, c.Postgres.Port)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("LLM_SERVICE_URL", "http://llm.internal:8000")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", c.Redis.Addr)
	assert.Equal(t, "http://llm.internal:8000", c.LLM.BaseURL)
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "voyplan",
		Password: "secret",
		Database: "voyplan",
		SSLMode:  "disable",
	}.DSN()
	assert.Equal(t, "host=db port=5432 user=voyplan password=secret dbname=voyplan sslmode=disable", dsn)
}
