// Package duckdb runs the file list on an embedded DuckDB file, for nodes that
// scan the catalog analytically. DuckDB allows one open handle per file, so
// reads and the single writer share the same pool.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/marcboeker/go-duckdb"
	"github.com/syntrixbase/catalog/internal/core/sqlstore"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
)

// Dialect is the DuckDB flavour of the shared SQL store.
var Dialect = &sqlstore.Dialect{
	Name:              "duckdb",
	Placeholder:       sq.Question,
	IsUniqueViolation: isUniqueViolation,
	Schema: sqlstore.Schema{
		FileList: []string{
			`CREATE SEQUENCE IF NOT EXISTS file_list_id_seq START 1`,
			`CREATE SEQUENCE IF NOT EXISTS file_list_deleted_id_seq START 1`,
			`CREATE SEQUENCE IF NOT EXISTS stream_stats_id_seq START 1`,
			`CREATE TABLE IF NOT EXISTS file_list (
    id              BIGINT PRIMARY KEY DEFAULT nextval('file_list_id_seq'),
    org             VARCHAR NOT NULL,
    stream          VARCHAR NOT NULL,
    date            VARCHAR NOT NULL,
    file            VARCHAR NOT NULL,
    min_ts          BIGINT NOT NULL,
    max_ts          BIGINT NOT NULL,
    records         BIGINT NOT NULL,
    original_size   BIGINT NOT NULL,
    compressed_size BIGINT NOT NULL,
    created_at      BIGINT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS file_list_deleted (
    id         BIGINT PRIMARY KEY DEFAULT nextval('file_list_deleted_id_seq'),
    org        VARCHAR NOT NULL,
    stream     VARCHAR NOT NULL,
    date       VARCHAR NOT NULL,
    file       VARCHAR NOT NULL,
    created_at BIGINT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS stream_stats (
    id              BIGINT PRIMARY KEY DEFAULT nextval('stream_stats_id_seq'),
    org             VARCHAR NOT NULL,
    stream          VARCHAR NOT NULL,
    file_num        BIGINT NOT NULL,
    min_ts          BIGINT NOT NULL,
    max_ts          BIGINT NOT NULL,
    records         BIGINT NOT NULL,
    original_size   BIGINT NOT NULL,
    compressed_size BIGINT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS file_list_meta (
    name  VARCHAR PRIMARY KEY,
    value BIGINT NOT NULL
)`,
		},
		FileListIndexes: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS file_list_stream_file_idx ON file_list (stream, date, file)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS file_list_deleted_stream_file_idx ON file_list_deleted (stream, date, file)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS stream_stats_stream_idx ON stream_stats (stream)`,
		},
	},
}

func isUniqueViolation(err error) bool {
	var de *duckdb.Error
	if !errors.As(err, &de) || de.Type != duckdb.ErrorTypeConstraint {
		return false
	}
	msg := strings.ToLower(de.Msg)
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique")
}

// NewFileList opens the DuckDB file at cfg.Path.
func NewFileList(ctx context.Context, cfg config.DuckDBConfig, queue int, logger *slog.Logger) (*sqlstore.FileList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("duckdb: create dir: %w", err)
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: open %s: %w", cfg.Path, err)
	}
	writer := sqlstore.NewActor(db, queue, logger.With("component", "duckdb_writer"))
	return sqlstore.NewFileList(Dialect, db, writer, logger), nil
}
