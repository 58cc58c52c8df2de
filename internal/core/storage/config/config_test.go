package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	services "github.com/syntrixbase/catalog/internal/services/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, KindSQLite, cfg.Meta)
	assert.Equal(t, KindSQLite, cfg.FileList)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.SQLite.BusyTimeout)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "catalog_coordinator", cfg.NATS.Bucket)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate(services.ModeLocal))
}

func TestConfig_Validate_ClusterRejectsEmbeddedMeta(t *testing.T) {
	for _, kind := range []Kind{KindPebble, KindSQLite} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Meta = kind
			err := cfg.Validate(services.ModeCluster)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "cannot be used in cluster mode")
		})
	}
}

func TestConfig_Validate_ClusterWithSharedMeta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Meta = KindPostgres
	cfg.FileList = KindPostgres
	cfg.Postgres.DSN = "postgres://localhost/catalog"

	assert.NoError(t, cfg.Validate(services.ModeCluster))
	assert.Equal(t, KindNATS, cfg.Coordinator(services.ModeCluster))
	assert.Equal(t, KindPostgres, cfg.Coordinator(services.ModeLocal))
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"unknown meta", func(c *Config) { c.Meta = "redis" }, "storage.meta: unsupported kind"},
		{"duckdb meta", func(c *Config) { c.Meta = KindDuckDB }, "storage.meta: unsupported kind"},
		{"nats file list", func(c *Config) { c.FileList = KindNATS }, "storage.file_list: unsupported kind"},
		{"postgres dsn", func(c *Config) { c.FileList = KindPostgres }, "storage.postgres.dsn is required"},
		{"mysql dsn", func(c *Config) { c.Meta = KindMySQL }, "storage.mysql.dsn is required"},
		{"mongo uri", func(c *Config) { c.Meta = KindMongo; c.Mongo.URI = "" }, "storage.mongo.uri is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate(services.ModeLocal)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Meta: KindPebble}
	cfg.ApplyDefaults()

	assert.Equal(t, KindPebble, cfg.Meta)
	assert.Equal(t, KindSQLite, cfg.FileList)
	assert.Equal(t, 64, cfg.SQLite.WriteQueue)
	assert.Equal(t, 20, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, 20, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.NATS.Timeout)
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("CATALOG_META_KIND", "postgres")
	t.Setenv("CATALOG_FILELIST_KIND", "duckdb")
	t.Setenv("CATALOG_POSTGRES_DSN", "postgres://db/catalog")
	t.Setenv("CATALOG_MYSQL_DSN", "root@tcp(db:3306)/catalog")
	t.Setenv("CATALOG_MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("CATALOG_NATS_URL", "nats://nats:4222")
	t.Setenv("CATALOG_DATA_DIR", "/var/lib/catalog")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, KindPostgres, cfg.Meta)
	assert.Equal(t, KindDuckDB, cfg.FileList)
	assert.Equal(t, "postgres://db/catalog", cfg.Postgres.DSN)
	assert.Equal(t, "root@tcp(db:3306)/catalog", cfg.MySQL.DSN)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "/var/lib/catalog", cfg.DataDir)
}

func TestConfig_ResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pebble.Dir = "/abs/pebble"
	cfg.ResolvePaths("/etc/catalog")

	assert.Equal(t, filepath.Join("/etc/catalog", "data"), cfg.DataDir)
	assert.Equal(t, "/abs/pebble", cfg.Pebble.Dir)
	assert.Equal(t, filepath.Join("/etc/catalog", "data", "sqlite"), cfg.SQLite.Dir)
	assert.Equal(t, filepath.Join("/etc/catalog", "data", "duckdb", "file_list.duckdb"), cfg.DuckDB.Path)
}
