// Package postgres runs the catalog on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/syntrixbase/catalog/internal/core/sqlstore"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
)

const uniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of the shared SQL store.
var Dialect = &sqlstore.Dialect{
	Name:              "postgres",
	Placeholder:       sq.Dollar,
	IsUniqueViolation: isUniqueViolation,
	Schema: sqlstore.Schema{
		KV: []string{`
CREATE TABLE IF NOT EXISTS meta (
    id     BIGSERIAL PRIMARY KEY,
    module VARCHAR(100) NOT NULL,
    key1   VARCHAR(256) NOT NULL,
    key2   VARCHAR(256) NOT NULL,
    value  BYTEA NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS meta_module_key2_idx ON meta (module, key1, key2);
`},
		FileList: []string{`
CREATE TABLE IF NOT EXISTS file_list (
    id              BIGSERIAL PRIMARY KEY,
    org             VARCHAR(100) NOT NULL,
    stream          VARCHAR(256) NOT NULL,
    date            VARCHAR(16) NOT NULL,
    file            VARCHAR(256) NOT NULL,
    min_ts          BIGINT NOT NULL,
    max_ts          BIGINT NOT NULL,
    records         BIGINT NOT NULL,
    original_size   BIGINT NOT NULL,
    compressed_size BIGINT NOT NULL,
    created_at      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_list_deleted (
    id         BIGSERIAL PRIMARY KEY,
    org        VARCHAR(100) NOT NULL,
    stream     VARCHAR(256) NOT NULL,
    date       VARCHAR(16) NOT NULL,
    file       VARCHAR(256) NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS stream_stats (
    id              BIGSERIAL PRIMARY KEY,
    org             VARCHAR(100) NOT NULL,
    stream          VARCHAR(256) NOT NULL,
    file_num        BIGINT NOT NULL,
    min_ts          BIGINT NOT NULL,
    max_ts          BIGINT NOT NULL,
    records         BIGINT NOT NULL,
    original_size   BIGINT NOT NULL,
    compressed_size BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_list_meta (
    name  VARCHAR(64) PRIMARY KEY,
    value BIGINT NOT NULL
);
`},
		FileListIndexes: []string{`
CREATE UNIQUE INDEX IF NOT EXISTS file_list_stream_file_idx ON file_list (stream, date, file);
CREATE INDEX IF NOT EXISTS file_list_org_idx ON file_list (org);
CREATE INDEX IF NOT EXISTS file_list_stream_ts_idx ON file_list (stream, max_ts, min_ts);
CREATE UNIQUE INDEX IF NOT EXISTS file_list_deleted_stream_file_idx ON file_list_deleted (stream, date, file);
CREATE INDEX IF NOT EXISTS file_list_deleted_org_ts_idx ON file_list_deleted (org, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS stream_stats_stream_idx ON stream_stats (stream);
CREATE INDEX IF NOT EXISTS stream_stats_org_idx ON stream_stats (org);
`},
	},
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Dependency injection for testing
var openDB = func(cfg config.SQLConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func connect(ctx context.Context, cfg config.SQLConfig) (*sql.DB, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewKV connects the meta store.
func NewKV(ctx context.Context, cfg config.SQLConfig, logger *slog.Logger) (*sqlstore.KV, error) {
	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqlstore.NewKV(Dialect, db, sqlstore.NewDirectWriter(db), logger), nil
}

// NewFileList connects the file list.
func NewFileList(ctx context.Context, cfg config.SQLConfig, logger *slog.Logger) (*sqlstore.FileList, error) {
	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqlstore.NewFileList(Dialect, db, sqlstore.NewDirectWriter(db), logger), nil
}
