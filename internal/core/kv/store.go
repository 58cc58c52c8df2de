package kv

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/metrics"
)

// Store implements Db on top of a Backend.
type Store struct {
	backend Backend
	watcher Watcher
	hub     *Hub
	logger  *slog.Logger

	leaseMu sync.Mutex
	leases  map[string]Lease
}

// Compile-time check that Store implements Db
var _ Db = (*Store)(nil)

// NewStore wraps backend. Engines without a native change feed get an
// in-process hub, so watches only see writes made through this Store.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		logger:  logger.With("component", "kv", "backend", backend.Name()),
		leases:  make(map[string]Lease),
	}
	if w, ok := backend.(Watcher); ok {
		s.watcher = w
	} else {
		s.hub = NewHub(defaultWatchBuffer)
	}
	return s
}

// Backend returns the wrapped engine.
func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) CreateTable(ctx context.Context) error {
	err := s.backend.CreateTable(ctx)
	s.observe("create_table", err)
	return err
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	return s.backend.Stats(ctx)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.backend.Get(ctx, key)
	s.observe("get", err)
	return v, err
}

func (s *Store) Put(ctx context.Context, key string, value []byte, needWatch bool) error {
	err := s.backend.Put(ctx, key, value)
	s.observe("put", err)
	if err != nil {
		return err
	}
	if needWatch {
		s.publish(ctx, Event{Kind: EventPut, Key: key, Value: value})
	}
	return nil
}

// Delete publishes one EventDelete per removed key, so a watcher on a deeper
// prefix than key still sees its keys go.
func (s *Store) Delete(ctx context.Context, key string, withPrefix, needWatch bool) error {
	deleted := []string{key}
	if needWatch && withPrefix && s.hub != nil {
		entries, err := s.backend.List(ctx, key)
		if err != nil {
			s.observe("delete", err)
			return err
		}
		deleted = make([]string, len(entries))
		for i, e := range entries {
			deleted[i] = e.Key
		}
	}

	n, err := s.backend.Delete(ctx, key, withPrefix)
	s.observe("delete", err)
	if err != nil {
		return err
	}
	if n == 0 {
		return meta.ErrKeyNotExists
	}
	if needWatch {
		for _, k := range deleted {
			s.publish(ctx, Event{Kind: EventDelete, Key: k})
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := s.backend.List(ctx, prefix)
	s.observe("list", err)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

func (s *Store) ListValues(ctx context.Context, prefix string) ([][]byte, error) {
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values, nil
}

func (s *Store) Count(ctx context.Context, prefix string) (int64, error) {
	n, err := s.backend.Count(ctx, prefix)
	s.observe("count", err)
	return n, err
}

func (s *Store) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	if s.watcher != nil {
		return s.watcher.Watch(ctx, prefix)
	}
	return s.hub.Subscribe(ctx, prefix)
}

func (s *Store) Close() error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.backend.Close()
}

func (s *Store) publish(ctx context.Context, ev Event) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish watch event", "key", ev.Key, "error", err)
		return
	}
	metrics.WatchEvents.WithLabelValues(s.backend.Name(), ev.Kind.String()).Inc()
}

func (s *Store) observe(op string, err error) {
	metrics.KVOps.WithLabelValues(s.backend.Name(), op, metrics.Result(err)).Inc()
}
