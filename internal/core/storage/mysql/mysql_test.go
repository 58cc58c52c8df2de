package mysql

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/core/storage/storagetest"
)

func setupMock(t *testing.T) sqlmock.Sqlmock {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	orig := openDB
	openDB = func(cfg config.SQLConfig) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() {
		openDB = orig
		db.Close()
	})
	mock.ExpectPing()
	return mock
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isUniqueViolation(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isUniqueViolation(errors.New("Duplicate entry")))
}

func TestKV_PutUsesDuplicateKeyUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mock := setupMock(t)
	store, err := NewKV(ctx, config.SQLConfig{DSN: "root@tcp(localhost:3306)/catalog"}, nil)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO meta \(module,key1,key2,value\) VALUES \(\?,\?,\?,\?\) ON DUPLICATE KEY UPDATE value = VALUES\(value\)`).
		WithArgs("schema", "org", "logs/web", []byte("v")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Put(ctx, "/schema/org/logs/web", []byte("v")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileList_StatsCastsSums(t *testing.T) {
	ctx := context.Background()
	mock := setupMock(t)
	fl, err := NewFileList(ctx, config.SQLConfig{DSN: "root@tcp(localhost:3306)/catalog"}, nil)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT stream, COUNT\(\*\), CAST\(COALESCE\(SUM\(records\), 0\) AS SIGNED\)`).
		WithArgs("org/logs/web").
		WillReturnRows(sqlmock.NewRows([]string{"stream", "files", "records", "min", "max", "size", "compressed"}).
			AddRow("org/logs/web", 1, 2, 3, 4, 5, 6))

	got, err := fl.Stats(ctx, "org", meta.StreamTypeLogs, "web", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Stats.DocNum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileList_BatchAddDeletedRetriesDuplicate(t *testing.T) {
	ctx := context.Background()
	mock := setupMock(t)
	fl, err := NewFileList(ctx, config.SQLConfig{DSN: "root@tcp(localhost:3306)/catalog"}, nil)
	require.NoError(t, err)

	key := "files/org/logs/web/2024/01/01/00/a.parquet"
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO file_list_deleted \(org,stream,date,file,created_at\)`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectExec(`INSERT INTO file_list_deleted`).
		WithArgs("org", "org/logs/web", "2024/01/01/00", "a.parquet", 100).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	require.NoError(t, fl.BatchAddDeleted(ctx, "org", 100, []string{key}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Integration tests run against CATALOG_MYSQL_DSN and wipe its catalog tables.
func integrationConfig(t *testing.T) config.SQLConfig {
	dsn := os.Getenv("CATALOG_MYSQL_DSN")
	if dsn == "" {
		t.Skip("CATALOG_MYSQL_DSN not set")
	}
	return config.SQLConfig{DSN: dsn, MaxOpenConns: 4}
}

func TestIntegration_KV(t *testing.T) {
	cfg := integrationConfig(t)
	storagetest.RunKVSuite(t, func(t *testing.T) kv.Db {
		ctx := context.Background()
		backend, err := NewKV(ctx, cfg, nil)
		require.NoError(t, err)
		store := kv.NewStore(backend, nil)
		require.NoError(t, store.CreateTable(ctx))
		require.NoError(t, kv.DeleteIfExists(ctx, store, "/", true, false))
		return store
	})
}

func TestIntegration_FileList(t *testing.T) {
	cfg := integrationConfig(t)
	storagetest.RunFileListSuite(t, func(t *testing.T) filelist.FileList {
		db, err := openDB(cfg)
		require.NoError(t, err)
		_, err = db.Exec(`DROP TABLE IF EXISTS file_list, file_list_deleted, stream_stats, file_list_meta`)
		db.Close()
		require.NoError(t, err)

		fl, err := NewFileList(context.Background(), cfg, nil)
		require.NoError(t, err)
		return fl
	})
}
