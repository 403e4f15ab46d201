package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromDir(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFromDir(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "syncengine", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.False(t, cfg.App.IsProduction())

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.False(t, cfg.Redis.Enabled)

	assert.Equal(t, 50, cfg.Engine.BatchSize)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 10, cfg.Engine.RateLimit)
	assert.Equal(t, 2*time.Second, cfg.Engine.InterBatchDelay)
	assert.Equal(t, 5, cfg.Engine.MaxActiveJobs)
	assert.Equal(t, 24*time.Hour, cfg.Engine.IdempotencyTTL)
	assert.Equal(t, "auto-retry", cfg.Engine.ConflictStrategy)

	assert.True(t, cfg.HTTP.RateLimitEnabled)
	assert.Equal(t, 100, cfg.HTTP.RateLimitRequests)

	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"products", "inventory"}, cfg.Scheduler.EntityTypes)
	assert.Equal(t, []string{"shopify", "amazon", "quickbooks"}, cfg.Engine.Systems)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	toml := `
[app]
name = "sync-test"
env = "production"
port = "9090"

[database]
host = "db.internal"
port = 5433
dbname = "sync_test"

[engine]
batch_size = 100
max_retries = 5
conflict_strategy = "manual"
inter_batch_delay = "500ms"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0644))

	cfg, err := loadFromDir(t, dir)
	require.NoError(t, err)

	assert.Equal(t, "sync-test", cfg.App.Name)
	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, "manual", cfg.Engine.ConflictStrategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.InterBatchDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Engine.RateLimit)
}

func TestLoad_AdapterEndpoints(t *testing.T) {
	dir := t.TempDir()
	toml := `
[engine.adapters.shopify]
base_url = "https://shop.example.com/api"
api_key = "sk-test"
timeout = "10s"

[engine.adapters.amazon]
# No base_url, so the system stays on the log-only adapter.
api_key = "ignored"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0644))

	cfg, err := loadFromDir(t, dir)
	require.NoError(t, err)

	ep, ok := cfg.Engine.Adapters["shopify"]
	require.True(t, ok)
	assert.Equal(t, "https://shop.example.com/api", ep.BaseURL)
	assert.Equal(t, "sk-test", ep.APIKey)
	assert.Equal(t, 10*time.Second, ep.Timeout)

	_, ok = cfg.Engine.Adapters["amazon"]
	assert.False(t, ok, "system without a base URL gets no endpoint")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SYNC_DATABASE_PASSWORD", "secret-from-env")
	t.Setenv("SYNC_ENGINE_BATCH_SIZE", "75")
	t.Setenv("SYNC_LOG_LEVEL", "debug")

	cfg, err := loadFromDir(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "secret-from-env", cfg.Database.Password)
	assert.Equal(t, 75, cfg.Engine.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Run("bad conflict strategy", func(t *testing.T) {
		t.Setenv("SYNC_ENGINE_CONFLICT_STRATEGY", "ignore")
		_, err := loadFromDir(t, t.TempDir())
		assert.Error(t, err)
	})

	t.Run("bad database port", func(t *testing.T) {
		t.Setenv("SYNC_DATABASE_PORT", "99999")
		_, err := loadFromDir(t, t.TempDir())
		assert.Error(t, err)
	})

	t.Run("scheduler enabled without tenant", func(t *testing.T) {
		t.Setenv("SYNC_SCHEDULER_ENABLED", "true")
		_, err := loadFromDir(t, t.TempDir())
		assert.Error(t, err)
	})

	t.Run("bad adapter base URL", func(t *testing.T) {
		dir := t.TempDir()
		toml := `
[engine.adapters.shopify]
base_url = "::not-a-url"
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0644))
		_, err := loadFromDir(t, dir)
		assert.Error(t, err)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "sync",
		Password: "pw", DBName: "syncengine", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=sync password=pw dbname=syncengine sslmode=disable",
		cfg.DSN(),
	)
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", cfg.Addr())
}
