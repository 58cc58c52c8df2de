package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/core/storage/storagetest"
)

func testConfig(t *testing.T) config.SQLiteConfig {
	return config.SQLiteConfig{
		Dir:         t.TempDir(),
		BusyTimeout: 5 * time.Second,
		WriteQueue:  16,
		ReadConns:   2,
	}
}

func TestKV(t *testing.T) {
	storagetest.RunKVSuite(t, func(t *testing.T) kv.Db {
		backend, err := NewKV(context.Background(), testConfig(t), nil)
		require.NoError(t, err)
		return kv.NewStore(backend, nil)
	})
}

func TestFileList(t *testing.T) {
	storagetest.RunFileListSuite(t, func(t *testing.T) filelist.FileList {
		fl, err := NewFileList(context.Background(), testConfig(t), nil)
		require.NoError(t, err)
		return fl
	})
}

func TestFileList_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	fl, err := NewFileList(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, fl.CreateTable(ctx))
	require.NoError(t, fl.CreateTableIndex(ctx))
	f := storagetest.FileAt("org", "web", "a.parquet", storagetest.Base, storagetest.Base+1, 1)
	require.NoError(t, fl.Add(ctx, f.Key, f.Meta))
	require.NoError(t, fl.Close())

	fl, err = NewFileList(ctx, cfg, nil)
	require.NoError(t, err)
	defer fl.Close()

	got, err := fl.Get(ctx, f.Key)
	require.NoError(t, err)
	assert.Equal(t, f.Meta, got)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	fl, err := NewFileList(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer fl.Close()
	require.NoError(t, fl.CreateTable(ctx))
	require.NoError(t, fl.CreateTableIndex(ctx))

	f := storagetest.FileAt("org", "web", "a.parquet", storagetest.Base, storagetest.Base+1, 1)
	require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{f}))
	require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{f}))

	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed")))
	assert.False(t, isUniqueViolation(nil))
}
