// Package nats is the cluster coordinator: a kv.Backend on a NATS JetStream
// key-value bucket whose native watch feed sees writes from every node.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/metrics"
)

const backendName = "nats"

// natsConnect and jetStreamNew are injectable for tests.
var (
	natsConnect  = nats.Connect
	jetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
		return jetstream.New(nc)
	}
)

// KV stores coordinator keys in one JetStream bucket. Catalog keys are mapped
// to bucket keys with EncodeKey.
type KV struct {
	nc     *nats.Conn
	bucket jetstream.KeyValue
	logger *slog.Logger
}

var (
	_ kv.Backend = (*KV)(nil)
	_ kv.Watcher = (*KV)(nil)
)

// NewKV connects to cfg.URL and creates or updates the bucket.
func NewKV(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*KV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{nats.Name("catalog-coordinator")}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	nc, err := natsConnect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	js, err := jetStreamNew(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		History:  1,
		Replicas: replicas,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create key-value bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info("Connected to NATS", "url", cfg.URL, "bucket", cfg.Bucket)
	return &KV{
		nc:     nc,
		bucket: bucket,
		logger: logger.With("component", "coordinator", "backend", backendName),
	}, nil
}

func (s *KV) Name() string { return backendName }

// CreateTable is a no-op: the bucket is created on connect.
func (s *KV) CreateTable(ctx context.Context) error {
	return ctx.Err()
}

func (s *KV) Stats(ctx context.Context) (kv.Stats, error) {
	st, err := s.bucket.Status(ctx)
	if err != nil {
		return kv.Stats{}, meta.WrapBackend(backendName, "stats", err)
	}
	keys, err := s.keys(ctx, "")
	if err != nil {
		return kv.Stats{}, err
	}
	return kv.Stats{Keys: int64(len(keys)), Bytes: int64(st.Bytes())}, nil
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucket.Get(ctx, EncodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, meta.ErrKeyNotExists
		}
		return nil, meta.WrapBackend(backendName, "get", err)
	}
	return entry.Value(), nil
}

func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.bucket.Put(ctx, EncodeKey(key), value)
	return meta.WrapBackend(backendName, "put", err)
}

func (s *KV) Delete(ctx context.Context, key string, withPrefix bool) (int64, error) {
	var keys []string
	if withPrefix {
		var err error
		if keys, err = s.keys(ctx, key); err != nil {
			return 0, err
		}
	} else {
		if _, err := s.Get(ctx, key); err != nil {
			if errors.Is(err, meta.ErrKeyNotExists) {
				return 0, nil
			}
			return 0, err
		}
		keys = []string{key}
	}

	for i, k := range keys {
		if err := s.bucket.Delete(ctx, EncodeKey(k)); err != nil {
			return int64(i), meta.WrapBackend(backendName, "delete", err)
		}
	}
	return int64(len(keys)), nil
}

func (s *KV) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	keys, err := s.keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]kv.Entry, 0, len(keys))
	for _, k := range keys {
		v, err := s.Get(ctx, k)
		if errors.Is(err, meta.ErrKeyNotExists) {
			// Deleted between listing and reading.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, kv.Entry{Key: k, Value: v})
	}
	return out, nil
}

func (s *KV) Count(ctx context.Context, prefix string) (int64, error) {
	keys, err := s.keys(ctx, prefix)
	return int64(len(keys)), err
}

// keys returns the decoded live keys under prefix in key order. Bucket
// listing order is arbitrary.
func (s *KV) keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, meta.WrapBackend(backendName, "list_keys", err)
	}
	defer lister.Stop()

	var out []string
	for encoded := range lister.Keys() {
		key, err := DecodeKey(encoded)
		if err != nil {
			s.logger.Warn("Skipping undecodable bucket key", "key", encoded, "error", err)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, ctx.Err()
}

// Watch follows every change in the bucket made after the call and forwards
// those under prefix.
func (s *KV) Watch(ctx context.Context, prefix string) (<-chan kv.Event, error) {
	watcher, err := s.bucket.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return nil, meta.WrapBackend(backendName, "watch", err)
	}

	out := make(chan kv.Event, 64)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				ev, ok := s.event(entry)
				if !ok || !strings.HasPrefix(ev.Key, prefix) {
					continue
				}
				select {
				case out <- ev:
					metrics.WatchEvents.WithLabelValues(backendName, ev.Kind.String()).Inc()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *KV) event(entry jetstream.KeyValueEntry) (kv.Event, bool) {
	key, err := DecodeKey(entry.Key())
	if err != nil {
		s.logger.Warn("Skipping undecodable watch key", "key", entry.Key(), "error", err)
		return kv.Event{}, false
	}
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		return kv.Event{Kind: kv.EventPut, Key: key, Value: entry.Value()}, true
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return kv.Event{Kind: kv.EventDelete, Key: key}, true
	default:
		return kv.Event{}, false
	}
}

func (s *KV) Close() error {
	if s.nc != nil {
		s.logger.Info("Closing NATS connection...")
		s.nc.Close()
		s.nc = nil
	}
	return nil
}
