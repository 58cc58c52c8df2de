// Package sqlite runs the catalog on embedded SQLite files. All writes go
// through one connection owned by a sqlstore.Actor; reads use a separate
// query-only pool over the WAL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/syntrixbase/catalog/internal/core/sqlstore"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	metaFile     = "meta.sqlite"
	fileListFile = "file_list.sqlite"
)

// Dialect is the SQLite flavour of the shared SQL store.
var Dialect = &sqlstore.Dialect{
	Name:              "sqlite",
	Placeholder:       sq.Question,
	IsUniqueViolation: isUniqueViolation,
	Schema: sqlstore.Schema{
		KV: []string{
			`CREATE TABLE IF NOT EXISTS meta (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    module TEXT NOT NULL,
    key1   TEXT NOT NULL,
    key2   TEXT NOT NULL,
    value  BLOB NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS meta_module_key2_idx ON meta (module, key1, key2)`,
		},
		FileList: []string{
			`CREATE TABLE IF NOT EXISTS file_list (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    org             TEXT NOT NULL,
    stream          TEXT NOT NULL,
    date            TEXT NOT NULL,
    file            TEXT NOT NULL,
    min_ts          INTEGER NOT NULL,
    max_ts          INTEGER NOT NULL,
    records         INTEGER NOT NULL,
    original_size   INTEGER NOT NULL,
    compressed_size INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS file_list_deleted (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    org        TEXT NOT NULL,
    stream     TEXT NOT NULL,
    date       TEXT NOT NULL,
    file       TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS stream_stats (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    org             TEXT NOT NULL,
    stream          TEXT NOT NULL,
    file_num        INTEGER NOT NULL,
    min_ts          INTEGER NOT NULL,
    max_ts          INTEGER NOT NULL,
    records         INTEGER NOT NULL,
    original_size   INTEGER NOT NULL,
    compressed_size INTEGER NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS file_list_meta (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
)`,
		},
		FileListIndexes: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS file_list_stream_file_idx ON file_list (stream, date, file)`,
			`CREATE INDEX IF NOT EXISTS file_list_org_idx ON file_list (org)`,
			`CREATE INDEX IF NOT EXISTS file_list_stream_ts_idx ON file_list (stream, max_ts, min_ts)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS file_list_deleted_stream_file_idx ON file_list_deleted (stream, date, file)`,
			`CREATE INDEX IF NOT EXISTS file_list_deleted_org_ts_idx ON file_list_deleted (org, created_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS stream_stats_stream_idx ON stream_stats (stream)`,
			`CREATE INDEX IF NOT EXISTS stream_stats_org_idx ON stream_stats (org)`,
		},
	},
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// conn is one SQLite file opened as a single writer plus a reader pool.
type conn struct {
	writer *sqlstore.Actor
	reader *sql.DB
}

func open(ctx context.Context, cfg config.SQLiteConfig, name string, logger *slog.Logger) (*conn, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}
	path := filepath.Join(cfg.Dir, name)
	busy := cfg.BusyTimeout.Milliseconds()

	wdb, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, busy))
	if err != nil {
		return nil, err
	}
	wdb.SetMaxOpenConns(1) // Single writer
	if err := wdb.PingContext(ctx); err != nil {
		wdb.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	rdb, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=query_only(1)", path, busy))
	if err != nil {
		wdb.Close()
		return nil, err
	}
	if cfg.ReadConns > 0 {
		rdb.SetMaxOpenConns(cfg.ReadConns)
	}

	return &conn{
		writer: sqlstore.NewActor(wdb, cfg.WriteQueue, logger.With("component", "sqlite_writer", "file", name)),
		reader: rdb,
	}, nil
}

// NewKV opens the meta store file under cfg.Dir.
func NewKV(ctx context.Context, cfg config.SQLiteConfig, logger *slog.Logger) (*sqlstore.KV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := open(ctx, cfg, metaFile, logger)
	if err != nil {
		return nil, err
	}
	return sqlstore.NewKV(Dialect, c.reader, c.writer, logger), nil
}

// NewFileList opens the file list file under cfg.Dir.
func NewFileList(ctx context.Context, cfg config.SQLiteConfig, logger *slog.Logger) (*sqlstore.FileList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := open(ctx, cfg, fileListFile, logger)
	if err != nil {
		return nil, err
	}
	return sqlstore.NewFileList(Dialect, c.reader, c.writer, logger), nil
}
