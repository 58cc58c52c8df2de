package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	services "github.com/syntrixbase/catalog/internal/services/config"
)

// Kind names a storage engine.
type Kind string

const (
	KindPebble   Kind = "pebble"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
	KindMongo    Kind = "mongo"
	KindDuckDB   Kind = "duckdb"
	KindNATS     Kind = "nats"
)

// IsEmbedded reports whether the engine lives inside this process. Embedded
// engines cannot be shared between cluster nodes.
func (k Kind) IsEmbedded() bool {
	return k == KindPebble || k == KindSQLite || k == KindDuckDB
}

type Config struct {
	// Meta selects the engine of the durable metadata store.
	Meta Kind `yaml:"meta"`
	// FileList selects the engine of the file catalog.
	FileList Kind `yaml:"file_list"`
	// DataDir is the root of embedded engine files.
	DataDir string `yaml:"data_dir"`

	Pebble   PebbleConfig `yaml:"pebble"`
	SQLite   SQLiteConfig `yaml:"sqlite"`
	Postgres SQLConfig    `yaml:"postgres"`
	MySQL    SQLConfig    `yaml:"mysql"`
	Mongo    MongoConfig  `yaml:"mongo"`
	DuckDB   DuckDBConfig `yaml:"duckdb"`
	NATS     NATSConfig   `yaml:"nats"`
}

type PebbleConfig struct {
	Dir string `yaml:"dir"`
	// SyncWrites fsyncs every write batch.
	SyncWrites bool `yaml:"sync_writes"`
}

type SQLiteConfig struct {
	Dir         string        `yaml:"dir"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// WriteQueue bounds pending writes in front of the single writer.
	WriteQueue int `yaml:"write_queue"`
	// ReadConns sizes the read-only connection pool.
	ReadConns int `yaml:"read_conns"`
}

// SQLConfig configures a client-server SQL engine.
type SQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MongoConfig struct {
	URI          string `yaml:"uri"`
	DatabaseName string `yaml:"database_name"`
}

type DuckDBConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	URL      string        `yaml:"url"`
	Bucket   string        `yaml:"bucket"`
	Replicas int           `yaml:"replicas"`
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Meta:     KindSQLite,
		FileList: KindSQLite,
		DataDir:  "data",
		SQLite: SQLiteConfig{
			BusyTimeout: 5 * time.Second,
			WriteQueue:  64,
			ReadConns:   4,
		},
		Postgres: SQLConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		MySQL: SQLConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Mongo: MongoConfig{
			URI:          "mongodb://localhost:27017",
			DatabaseName: "catalog",
		},
		NATS: NATSConfig{
			URL:      "nats://localhost:4222",
			Bucket:   "catalog_coordinator",
			Replicas: 1,
			Timeout:  5 * time.Second,
		},
	}
}

// Coordinator returns the engine that serves the coordinator Db in mode.
func (c *Config) Coordinator(mode services.DeploymentMode) Kind {
	if mode.IsCluster() {
		return KindNATS
	}
	return c.Meta
}

// ValidateTopology rejects engine choices that cannot work in mode. An
// embedded meta store is invisible to other nodes, so cluster mode needs a
// shared one.
func ValidateTopology(mode services.DeploymentMode, meta Kind) error {
	if mode.IsCluster() && meta.IsEmbedded() {
		return fmt.Errorf("storage.meta %q is node-local and cannot be used in cluster mode", meta)
	}
	return nil
}

func (c *Config) Validate(mode services.DeploymentMode) error {
	switch c.Meta {
	case KindPebble, KindSQLite, KindPostgres, KindMySQL, KindMongo:
	default:
		return fmt.Errorf("storage.meta: unsupported kind %q", c.Meta)
	}
	switch c.FileList {
	case KindPebble, KindSQLite, KindPostgres, KindMySQL, KindMongo, KindDuckDB:
	default:
		return fmt.Errorf("storage.file_list: unsupported kind %q", c.FileList)
	}
	if err := ValidateTopology(mode, c.Meta); err != nil {
		return err
	}

	used := map[Kind]bool{c.Meta: true, c.FileList: true, c.Coordinator(mode): true}
	if used[KindPostgres] && c.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required")
	}
	if used[KindMySQL] && c.MySQL.DSN == "" {
		return fmt.Errorf("storage.mysql.dsn is required")
	}
	if used[KindMongo] && c.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required")
	}
	if used[KindNATS] && c.NATS.URL == "" {
		return fmt.Errorf("storage.nats.url is required in cluster mode")
	}
	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Meta == "" {
		c.Meta = defaults.Meta
	}
	if c.FileList == "" {
		c.FileList = defaults.FileList
	}
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if c.SQLite.BusyTimeout == 0 {
		c.SQLite.BusyTimeout = defaults.SQLite.BusyTimeout
	}
	if c.SQLite.WriteQueue == 0 {
		c.SQLite.WriteQueue = defaults.SQLite.WriteQueue
	}
	if c.SQLite.ReadConns == 0 {
		c.SQLite.ReadConns = defaults.SQLite.ReadConns
	}
	applySQLDefaults(&c.Postgres, defaults.Postgres)
	applySQLDefaults(&c.MySQL, defaults.MySQL)
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.NATS.URL == "" {
		c.NATS.URL = defaults.NATS.URL
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = defaults.NATS.Bucket
	}
	if c.NATS.Replicas == 0 {
		c.NATS.Replicas = defaults.NATS.Replicas
	}
	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = defaults.NATS.Timeout
	}
}

func applySQLDefaults(c *SQLConfig, defaults SQLConfig) {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaults.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = defaults.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("CATALOG_META_KIND"); val != "" {
		c.Meta = Kind(val)
	}
	if val := os.Getenv("CATALOG_FILELIST_KIND"); val != "" {
		c.FileList = Kind(val)
	}
	if val := os.Getenv("CATALOG_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("CATALOG_POSTGRES_DSN"); val != "" {
		c.Postgres.DSN = val
	}
	if val := os.Getenv("CATALOG_MYSQL_DSN"); val != "" {
		c.MySQL.DSN = val
	}
	if val := os.Getenv("CATALOG_MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("CATALOG_NATS_URL"); val != "" {
		c.NATS.URL = val
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// Engine directories default to subdirectories of DataDir.
func (c *Config) ResolvePaths(baseDir string) {
	if c.DataDir != "" && !filepath.IsAbs(c.DataDir) && baseDir != "" {
		c.DataDir = filepath.Join(baseDir, c.DataDir)
	}
	c.Pebble.Dir = resolve(c.DataDir, c.Pebble.Dir, "pebble")
	c.SQLite.Dir = resolve(c.DataDir, c.SQLite.Dir, "sqlite")
	c.DuckDB.Path = resolve(c.DataDir, c.DuckDB.Path, filepath.Join("duckdb", "file_list.duckdb"))
}

func resolve(dataDir, path, fallback string) string {
	if path == "" {
		return filepath.Join(dataDir, fallback)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}
