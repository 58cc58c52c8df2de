// Package mysql runs the catalog on MySQL through go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/syntrixbase/catalog/internal/core/sqlstore"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
)

const errDupEntry = 1062

// Dialect is the MySQL flavour of the shared SQL store. MySQL has no
// CREATE INDEX IF NOT EXISTS, so indexes are declared with their tables.
var Dialect = &sqlstore.Dialect{
	Name:               "mysql",
	Placeholder:        sq.Question,
	DuplicateKeyUpdate: true,
	IntegerCast:        "SIGNED",
	IsUniqueViolation:  isUniqueViolation,
	Schema: sqlstore.Schema{
		KV: []string{`
CREATE TABLE IF NOT EXISTS meta (
    id     BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    module VARCHAR(100) NOT NULL,
    key1   VARCHAR(256) NOT NULL,
    key2   VARCHAR(256) NOT NULL,
    value  LONGBLOB NOT NULL,
    UNIQUE KEY meta_module_key2_idx (module, key1, key2)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`},
		FileList: []string{`
CREATE TABLE IF NOT EXISTS file_list (
    id              BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    org             VARCHAR(100) NOT NULL,
    stream          VARCHAR(256) NOT NULL,
    date            VARCHAR(16) NOT NULL,
    file            VARCHAR(256) NOT NULL,
    min_ts          BIGINT NOT NULL,
    max_ts          BIGINT NOT NULL,
    records         BIGINT NOT NULL,
    original_size   BIGINT NOT NULL,
    compressed_size BIGINT NOT NULL,
    created_at      BIGINT NOT NULL,
    UNIQUE KEY file_list_stream_file_idx (stream, date, file),
    KEY file_list_org_idx (org),
    KEY file_list_stream_ts_idx (stream, max_ts, min_ts)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, `
CREATE TABLE IF NOT EXISTS file_list_deleted (
    id         BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    org        VARCHAR(100) NOT NULL,
    stream     VARCHAR(256) NOT NULL,
    date       VARCHAR(16) NOT NULL,
    file       VARCHAR(256) NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE KEY file_list_deleted_stream_file_idx (stream, date, file),
    KEY file_list_deleted_org_ts_idx (org, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, `
CREATE TABLE IF NOT EXISTS stream_stats (
    id              BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    org             VARCHAR(100) NOT NULL,
    stream          VARCHAR(256) NOT NULL,
    file_num        BIGINT NOT NULL,
    min_ts          BIGINT NOT NULL,
    max_ts          BIGINT NOT NULL,
    records         BIGINT NOT NULL,
    original_size   BIGINT NOT NULL,
    compressed_size BIGINT NOT NULL,
    UNIQUE KEY stream_stats_stream_idx (stream),
    KEY stream_stats_org_idx (org)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, `
CREATE TABLE IF NOT EXISTS file_list_meta (
    name  VARCHAR(64) NOT NULL PRIMARY KEY,
    value BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`},
	},
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}

// Dependency injection for testing
var openDB = func(cfg config.SQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
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
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
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
