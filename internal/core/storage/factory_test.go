package storage

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/core/storage/pebble"
	services "github.com/syntrixbase/catalog/internal/services/config"
)

func pebbleConfig(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	cfg.Meta = config.KindPebble
	cfg.FileList = config.KindPebble
	cfg.Pebble.Dir = t.TempDir()
	return cfg
}

func TestNewFactory_Local(t *testing.T) {
	ctx := context.Background()
	f, err := NewFactory(ctx, pebbleConfig(t), services.ModeLocal, nil)
	require.NoError(t, err)
	defer f.Close()

	assert.Same(t, f.Meta(), f.Coordinator())

	require.NoError(t, f.Meta().Put(ctx, "/schema/org/logs/web", []byte("s"), false))
	v, err := f.Coordinator().Get(ctx, "/schema/org/logs/web")
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), v)

	ok, err := f.FileList().GetInitialised(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, isInstrumented := f.FileList().(*filelist.Instrumented)
	assert.True(t, isInstrumented)
}

func TestNewFactory_ReopenKeepsInitialised(t *testing.T) {
	ctx := context.Background()
	cfg := pebbleConfig(t)

	f, err := NewFactory(ctx, cfg, services.ModeLocal, nil)
	require.NoError(t, err)
	require.NoError(t, f.FileList().Add(ctx, "files/org/logs/web/2024/01/01/00/a.parquet", meta.FileMeta{MinTS: 1, MaxTS: 2, Records: 3}))
	require.NoError(t, f.Close())

	f, err = NewFactory(ctx, cfg, services.ModeLocal, nil)
	require.NoError(t, err)
	defer f.Close()
	n, err := f.FileList().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewFactory_ClusterRejectsEmbeddedMeta(t *testing.T) {
	_, err := NewFactory(context.Background(), pebbleConfig(t), services.ModeCluster, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be used in cluster mode")
}

func TestNewFactory_ClusterUsesSeparateCoordinator(t *testing.T) {
	origKV := newKVBackend
	defer func() { newKVBackend = origKV }()

	dir := t.TempDir()
	var opened []config.Kind
	newKVBackend = func(ctx context.Context, kind config.Kind, cfg config.Config, logger *slog.Logger) (kv.Backend, error) {
		opened = append(opened, kind)
		// Both roles run on pebble here, in separate directories.
		sub := cfg.Pebble
		sub.Dir = dir + "/" + string(kind)
		return pebble.NewKV(sub, logger)
	}

	cfg := pebbleConfig(t)
	cfg.Meta = config.KindPostgres
	f, err := NewFactory(context.Background(), cfg, services.ModeCluster, nil)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []config.Kind{config.KindPostgres, config.KindNATS}, opened)
	assert.NotSame(t, f.Meta(), f.Coordinator())
}

func TestNewFactory_FileListFailureClosesMeta(t *testing.T) {
	origFL := newFileListBackend
	defer func() { newFileListBackend = origFL }()
	newFileListBackend = func(ctx context.Context, kind config.Kind, cfg config.Config, logger *slog.Logger) (filelist.FileList, error) {
		return nil, errors.New("disk full")
	}

	cfg := pebbleConfig(t)
	_, err := NewFactory(context.Background(), cfg, services.ModeLocal, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize file list pebble: disk full")

	// The meta db must have been released: reopening the same directory works.
	backend, err := pebble.NewKV(cfg.Pebble, nil)
	require.NoError(t, err)
	assert.NoError(t, backend.Close())
}

func TestOpenBackends_Unsupported(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{}

	_, err := openKVBackend(ctx, config.KindDuckDB, cfg, nil)
	assert.ErrorIs(t, err, meta.ErrUnsupportedStore)

	_, err = openFileListBackend(ctx, config.KindNATS, cfg, nil)
	assert.ErrorIs(t, err, meta.ErrUnsupportedStore)
}

func TestFactory_CloseIdempotent(t *testing.T) {
	f, err := NewFactory(context.Background(), pebbleConfig(t), services.ModeLocal, nil)
	require.NoError(t, err)
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}
