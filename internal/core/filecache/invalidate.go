package filecache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syntrixbase/catalog/internal/core/kv"
)

// EvictPrefix is the coordinator key space for file removal announcements.
const EvictPrefix = "/filecache/evict/"

// Invalidate removes cached files whose announcement key under prefix is
// deleted on db. It returns once the watch is established; the loop stops
// when ctx is cancelled.
func Invalidate(ctx context.Context, db kv.Db, prefix string, cache *Cache) error {
	events, err := db.Watch(ctx, prefix)
	if err != nil {
		return fmt.Errorf("filecache: watch %s: %w", prefix, err)
	}
	go func() {
		for ev := range events {
			if ev.Kind != kv.EventDelete {
				continue
			}
			cache.Remove(strings.TrimPrefix(ev.Key, prefix))
		}
	}()
	return nil
}

// Announcer tells every node to drop removed files from its cache.
type Announcer struct {
	db     kv.Db
	prefix string
	logger *slog.Logger
}

func NewAnnouncer(db kv.Db, prefix string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{db: db, prefix: prefix, logger: logger.With("component", "filecache-announcer")}
}

// RemoveFiles announces each file as a short-lived key that is deleted with
// watch notification. Nothing is left behind on the coordinator.
func (a *Announcer) RemoveFiles(ctx context.Context, files []string) error {
	for _, file := range files {
		key := a.prefix + file
		if err := a.db.Put(ctx, key, []byte{}, false); err != nil {
			return fmt.Errorf("announce %s: %w", file, err)
		}
		if err := kv.DeleteIfExists(ctx, a.db, key, false, true); err != nil {
			return fmt.Errorf("announce %s: %w", file, err)
		}
	}
	if len(files) > 0 {
		a.logger.Debug("announced removed files", "count", len(files))
	}
	return nil
}
