package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	storage "github.com/syntrixbase/catalog/internal/core/storage/config"
	services "github.com/syntrixbase/catalog/internal/services/config"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	require.NoError(t, os.Mkdir(configDir, 0o755))

	cfg, err := LoadConfig(configDir)
	require.NoError(t, err)

	assert.Equal(t, services.ModeLocal, cfg.Deployment.Mode)
	assert.Equal(t, storage.KindSQLite, cfg.Storage.Meta)
	assert.Equal(t, filepath.Join(root, "data"), cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(root, "data", "sqlite"), cfg.Storage.SQLite.Dir)
	assert.Equal(t, filepath.Join(root, "logs"), cfg.Logging.Dir)
	assert.Equal(t, time.Minute, cfg.Workers.Stats.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Workers.Stats.LeaseTTL)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadConfig_DisabledConsoleOutput(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	require.NoError(t, os.Mkdir(configDir, 0o755))
	writeConfig(t, configDir, "config.yml", `
logging:
  console:
    enabled: false
workers:
  stats:
    lease_ttl: 30s
`)

	cfg, err := LoadConfig(configDir)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Console.Enabled)
	assert.True(t, cfg.Logging.File.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Workers.Stats.LeaseTTL)
	assert.Equal(t, time.Minute, cfg.Workers.Stats.Interval)
}

func TestLoadConfig_LocalOverridesFile(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	require.NoError(t, os.Mkdir(configDir, 0o755))

	writeConfig(t, configDir, "config.yml", `
storage:
  meta: pebble
  file_list: duckdb
workers:
  tombstone:
    retention: 2h
    orgs: [acme, globex]
  file_cache:
    dir: cache
logging:
  level: debug
`)
	writeConfig(t, configDir, "config.local.yml", `
storage:
  file_list: pebble
metrics:
  addr: "127.0.0.1:9100"
`)

	cfg, err := LoadConfig(configDir)
	require.NoError(t, err)

	assert.Equal(t, storage.KindPebble, cfg.Storage.Meta)
	assert.Equal(t, storage.KindPebble, cfg.Storage.FileList)
	assert.Equal(t, 2*time.Hour, cfg.Workers.Tombstone.Retention)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Workers.Tombstone.Orgs)
	assert.Equal(t, filepath.Join(root, "cache"), cfg.Workers.FileCache.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CATALOG_DEPLOYMENT_MODE", "cluster")
	t.Setenv("CATALOG_META_KIND", "postgres")
	t.Setenv("CATALOG_POSTGRES_DSN", "postgres://catalog@db/catalog")
	t.Setenv("CATALOG_NATS_URL", "nats://nats:4222")
	t.Setenv("CATALOG_TOMBSTONE_RETENTION", "30m")
	t.Setenv("CATALOG_METRICS_ADDR", "")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, services.ModeCluster, cfg.Deployment.Mode)
	assert.Equal(t, storage.KindPostgres, cfg.Storage.Meta)
	assert.Equal(t, storage.KindNATS, cfg.Storage.Coordinator(cfg.Deployment.Mode))
	assert.Equal(t, "nats://nats:4222", cfg.Storage.NATS.URL)
	assert.Equal(t, 30*time.Minute, cfg.Workers.Tombstone.Retention)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadConfig_ClusterWithEmbeddedMetaFails(t *testing.T) {
	t.Setenv("CATALOG_DEPLOYMENT_MODE", "cluster")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be used in cluster mode")
}

func TestLoadConfig_InvalidMode(t *testing.T) {
	t.Setenv("CATALOG_DEPLOYMENT_MODE", "distributed")

	_, err := LoadConfig(t.TempDir())
	assert.ErrorContains(t, err, "deployment.mode must be")
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", "storage: [not valid")

	_, err := LoadConfig(dir)
	assert.ErrorContains(t, err, "failed to parse")
}

func TestWorkersConfig_Validate(t *testing.T) {
	cfg := DefaultWorkersConfig()
	assert.NoError(t, cfg.Validate(services.ModeLocal))

	cfg.Tombstone.Orgs = []string{"acme", "bad/org"}
	assert.ErrorContains(t, cfg.Validate(services.ModeLocal), "invalid org")

	cfg = DefaultWorkersConfig()
	cfg.FileCache.MaxBytes = -1
	assert.Error(t, cfg.Validate(services.ModeLocal))

	cfg = DefaultWorkersConfig()
	cfg.Stats.LeaseTTL = -time.Second
	assert.ErrorContains(t, cfg.Validate(services.ModeLocal), "lease_ttl")
}

func TestMetricsConfig_Validate(t *testing.T) {
	assert.NoError(t, (&MetricsConfig{}).Validate(services.ModeLocal))
	assert.NoError(t, (&MetricsConfig{Addr: ":9090"}).Validate(services.ModeLocal))
	assert.Error(t, (&MetricsConfig{Addr: "9090"}).Validate(services.ModeLocal))
}
