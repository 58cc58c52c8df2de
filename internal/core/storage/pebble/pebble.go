// Package pebble runs the catalog on embedded Pebble LSM stores, one database
// directory for the meta store and one for the file list.
package pebble

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
)

const (
	backendName = "pebble"

	metaDir     = "meta"
	fileListDir = "file_list"

	blockCacheSize = 64 << 20
)

// engine owns one Pebble database. Read-modify-write sequences hold writeMu;
// plain reads only need the database to be open.
type engine struct {
	db      *pebble.DB
	path    string
	syncOpt *pebble.WriteOptions
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	writeMu sync.Mutex
}

func open(cfg config.PebbleConfig, name string, logger *slog.Logger) (*engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(cfg.Dir, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pebble directory: %w", err)
	}

	cache := pebble.NewCache(blockCacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database %s: %w", path, err)
	}

	syncOpt := pebble.NoSync
	if cfg.SyncWrites {
		syncOpt = pebble.Sync
	}
	return &engine{
		db:      db,
		path:    path,
		syncOpt: syncOpt,
		logger:  logger.With("component", "pebble", "path", path),
	}, nil
}

func (e *engine) read(ctx context.Context, op string, fn func(db *pebble.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return meta.ErrBackendClosed
	}
	return meta.WrapBackend(backendName, op, fn(e.db))
}

func (e *engine) write(ctx context.Context, op string, fn func(db *pebble.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return meta.ErrBackendClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return meta.WrapBackend(backendName, op, fn(e.db))
}

func (e *engine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	return nil
}

// get copies the value of key out of Pebble. found is false on a miss.
func get(db *pebble.DB, key []byte) (value []byte, found bool, err error) {
	v, closer, err := db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

// prefixUpper returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func prefixUpper(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

func prefixOptions(prefix string) *pebble.IterOptions {
	if prefix == "" {
		return &pebble.IterOptions{}
	}
	p := []byte(prefix)
	return &pebble.IterOptions{LowerBound: p, UpperBound: prefixUpper(p)}
}

// scan calls fn for every key under prefix in key order. Key and value are only
// valid during the call.
func scan(db *pebble.DB, opts *pebble.IterOptions, fn func(key, value []byte) error) error {
	iter, err := db.NewIter(opts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

// KV is the meta store backend. Keys are stored verbatim.
type KV struct {
	e *engine
}

var _ kv.Backend = (*KV)(nil)

// NewKV opens {cfg.Dir}/meta.
func NewKV(cfg config.PebbleConfig, logger *slog.Logger) (*KV, error) {
	e, err := open(cfg, metaDir, logger)
	if err != nil {
		return nil, err
	}
	return &KV{e: e}, nil
}

func (s *KV) Name() string { return backendName }

func (s *KV) CreateTable(ctx context.Context) error {
	return ctx.Err()
}

func (s *KV) Stats(ctx context.Context) (kv.Stats, error) {
	var st kv.Stats
	err := s.e.read(ctx, "stats", func(db *pebble.DB) error {
		return scan(db, &pebble.IterOptions{}, func(_, value []byte) error {
			st.Keys++
			st.Bytes += int64(len(value))
			return nil
		})
	})
	return st, err
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.e.read(ctx, "get", func(db *pebble.DB) error {
		v, found, err := get(db, []byte(key))
		if err != nil {
			return err
		}
		if !found {
			return meta.ErrKeyNotExists
		}
		out = v
		return nil
	})
	return out, err
}

func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	return s.e.write(ctx, "put", func(db *pebble.DB) error {
		return db.Set([]byte(key), value, s.e.syncOpt)
	})
}

func (s *KV) Delete(ctx context.Context, key string, withPrefix bool) (int64, error) {
	var n int64
	err := s.e.write(ctx, "delete", func(db *pebble.DB) error {
		if !withPrefix {
			_, found, err := get(db, []byte(key))
			if err != nil || !found {
				return err
			}
			n = 1
			return db.Delete([]byte(key), s.e.syncOpt)
		}

		batch := db.NewBatch()
		defer batch.Close()
		err := scan(db, prefixOptions(key), func(k, _ []byte) error {
			n++
			return batch.Delete(k, nil)
		})
		if err != nil || n == 0 {
			return err
		}
		return batch.Commit(s.e.syncOpt)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *KV) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	var out []kv.Entry
	err := s.e.read(ctx, "list", func(db *pebble.DB) error {
		return scan(db, prefixOptions(prefix), func(key, value []byte) error {
			out = append(out, kv.Entry{Key: string(key), Value: append([]byte(nil), value...)})
			return nil
		})
	})
	return out, err
}

func (s *KV) Count(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := s.e.read(ctx, "count", func(db *pebble.DB) error {
		return scan(db, prefixOptions(prefix), func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (s *KV) Close() error {
	return s.e.close()
}
