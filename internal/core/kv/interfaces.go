// Package kv defines the generic watched key-value store used for durable
// metadata and cluster coordination.
//
// Keys follow /{module}/{key1}/{key2...}. Engines implement the narrow Backend
// interface; Store turns a Backend into a full Db, adding list projections and
// change notification.
package kv

import (
	"context"
	"errors"

	"github.com/syntrixbase/catalog/internal/core/meta"
)

// EventKind is the type of a watch event.
type EventKind int

const (
	EventEmpty EventKind = iota
	EventPut
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	default:
		return "empty"
	}
}

// Event is one change observed by a watch subscription. Value is nil for
// EventDelete and EventEmpty.
type Event struct {
	Kind  EventKind
	Key   string
	Value []byte
}

// Entry is a key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// Stats describes the size of a store.
type Stats struct {
	Bytes int64
	Keys  int64
}

// Db is the watched key-value store contract.
type Db interface {
	// CreateTable initializes schema, buckets or collections. Idempotent.
	CreateTable(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	// Get returns meta.ErrKeyNotExists if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put upserts key. With needWatch the change is published to watchers of
	// any prefix covering key.
	Put(ctx context.Context, key string, value []byte, needWatch bool) error
	// Delete removes key, or every key under it when withPrefix is set.
	// Returns meta.ErrKeyNotExists if nothing matched.
	Delete(ctx context.Context, key string, withPrefix, needWatch bool) error
	// List, ListKeys and ListValues return results ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ListValues(ctx context.Context, prefix string) ([][]byte, error)
	Count(ctx context.Context, prefix string) (int64, error)
	// Watch streams changes of keys under prefix until ctx is cancelled, then
	// closes the channel.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
	Close() error
}

// DeleteIfExists is Delete that treats a miss as success. Every other error is
// returned unchanged.
func DeleteIfExists(ctx context.Context, db Db, key string, withPrefix, needWatch bool) error {
	err := db.Delete(ctx, key, withPrefix, needWatch)
	if errors.Is(err, meta.ErrKeyNotExists) {
		return nil
	}
	return err
}

// Backend is implemented by each storage engine.
type Backend interface {
	// Name identifies the engine in logs, errors and metrics.
	Name() string
	CreateTable(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete returns how many keys were removed.
	Delete(ctx context.Context, key string, withPrefix bool) (int64, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	Count(ctx context.Context, prefix string) (int64, error)
	Close() error
}

// Watcher is implemented by engines with native change feeds. Their feeds see
// every committed change, so Store does not publish to the in-process hub.
type Watcher interface {
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
}
