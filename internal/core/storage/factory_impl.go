package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/core/storage/duckdb"
	"github.com/syntrixbase/catalog/internal/core/storage/mongo"
	"github.com/syntrixbase/catalog/internal/core/storage/mysql"
	"github.com/syntrixbase/catalog/internal/core/storage/nats"
	"github.com/syntrixbase/catalog/internal/core/storage/pebble"
	"github.com/syntrixbase/catalog/internal/core/storage/postgres"
	"github.com/syntrixbase/catalog/internal/core/storage/sqlite"
	services "github.com/syntrixbase/catalog/internal/services/config"
)

// duckdbWriteQueue bounds pending writes in front of the DuckDB writer.
const duckdbWriteQueue = 64

// Dependency injection for testing
var (
	newKVBackend       = openKVBackend
	newFileListBackend = openFileListBackend
)

func openKVBackend(ctx context.Context, kind config.Kind, cfg config.Config, logger *slog.Logger) (kv.Backend, error) {
	switch kind {
	case config.KindPebble:
		return pebble.NewKV(cfg.Pebble, logger)
	case config.KindSQLite:
		return sqlite.NewKV(ctx, cfg.SQLite, logger)
	case config.KindPostgres:
		return postgres.NewKV(ctx, cfg.Postgres, logger)
	case config.KindMySQL:
		return mysql.NewKV(ctx, cfg.MySQL, logger)
	case config.KindMongo:
		return mongo.NewKV(ctx, cfg.Mongo)
	case config.KindNATS:
		return nats.NewKV(ctx, cfg.NATS, logger)
	}
	return nil, fmt.Errorf("%w: meta store %q", meta.ErrUnsupportedStore, kind)
}

func openFileListBackend(ctx context.Context, kind config.Kind, cfg config.Config, logger *slog.Logger) (filelist.FileList, error) {
	switch kind {
	case config.KindPebble:
		return pebble.NewFileList(cfg.Pebble, logger)
	case config.KindSQLite:
		return sqlite.NewFileList(ctx, cfg.SQLite, logger)
	case config.KindPostgres:
		return postgres.NewFileList(ctx, cfg.Postgres, logger)
	case config.KindMySQL:
		return mysql.NewFileList(ctx, cfg.MySQL, logger)
	case config.KindMongo:
		return mongo.NewFileList(ctx, cfg.Mongo, logger)
	case config.KindDuckDB:
		return duckdb.NewFileList(ctx, cfg.DuckDB, duckdbWriteQueue, logger)
	}
	return nil, fmt.Errorf("%w: file list %q", meta.ErrUnsupportedStore, kind)
}

type factory struct {
	meta        *kv.Store
	coordinator *kv.Store
	fileList    *filelist.Instrumented
	mu          sync.Mutex
	closed      bool
}

// NewFactory opens the meta store, the coordinator and the file list
// described by cfg, and makes sure their schema exists. In local mode the
// coordinator is the meta store itself.
func NewFactory(ctx context.Context, cfg config.Config, mode services.DeploymentMode, logger *slog.Logger) (StorageFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.ValidateTopology(mode, cfg.Meta); err != nil {
		return nil, err
	}

	f := &factory{}
	success := false
	defer func() {
		if !success {
			f.Close()
		}
	}()

	// 1. Meta store
	metaBackend, err := newKVBackend(ctx, cfg.Meta, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meta store %s: %w", cfg.Meta, err)
	}
	f.meta = kv.NewStore(metaBackend, logger)
	if err := f.meta.CreateTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create meta table: %w", err)
	}

	// 2. Coordinator
	if coord := cfg.Coordinator(mode); coord == cfg.Meta {
		f.coordinator = f.meta
	} else {
		backend, err := newKVBackend(ctx, coord, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize coordinator %s: %w", coord, err)
		}
		f.coordinator = kv.NewStore(backend, logger)
		if err := f.coordinator.CreateTable(ctx); err != nil {
			return nil, fmt.Errorf("failed to create coordinator table: %w", err)
		}
	}

	// 3. File list
	fl, err := newFileListBackend(ctx, cfg.FileList, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file list %s: %w", cfg.FileList, err)
	}
	f.fileList = filelist.Instrument(fl, string(cfg.FileList))
	if err := initFileList(ctx, f.fileList); err != nil {
		return nil, err
	}

	logger.Info("Storage initialized",
		"meta", cfg.Meta, "coordinator", cfg.Coordinator(mode), "file_list", cfg.FileList)
	success = true
	return f, nil
}

func initFileList(ctx context.Context, fl filelist.FileList) error {
	if err := fl.CreateTable(ctx); err != nil {
		return fmt.Errorf("failed to create file list tables: %w", err)
	}
	if err := fl.CreateTableIndex(ctx); err != nil {
		return fmt.Errorf("failed to create file list indexes: %w", err)
	}
	ok, err := fl.GetInitialised(ctx)
	if err != nil {
		return fmt.Errorf("failed to read file list state: %w", err)
	}
	if ok {
		return nil
	}
	if err := fl.SetInitialised(ctx); err != nil {
		return fmt.Errorf("failed to mark file list initialised: %w", err)
	}
	return nil
}

func (f *factory) Meta() kv.Db {
	return f.meta
}

func (f *factory) Coordinator() kv.Db {
	return f.coordinator
}

func (f *factory) FileList() filelist.FileList {
	return f.fileList
}

func (f *factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	if f.fileList != nil {
		if err := f.fileList.Close(); err != nil {
			errs = append(errs, fmt.Errorf("file list: %w", err))
		}
	}
	if f.coordinator != nil && f.coordinator != f.meta {
		if err := f.coordinator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("coordinator: %w", err))
		}
	}
	if f.meta != nil {
		if err := f.meta.Close(); err != nil {
			errs = append(errs, fmt.Errorf("meta: %w", err))
		}
	}
	return errors.Join(errs...)
}
