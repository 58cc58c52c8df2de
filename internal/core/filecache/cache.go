// Package filecache holds recently read data files, bounded by total bytes and
// evicted oldest-first. Nodes drop entries when a file is announced as removed
// on the coordinator.
package filecache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/syntrixbase/catalog/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// ErrTooLarge is returned by Set when one file exceeds the whole capacity.
var ErrTooLarge = errors.New("file larger than cache capacity")

// Config contains configuration for the file cache
type Config struct {
	// MaxBytes bounds the total size of cached files
	MaxBytes int64 `yaml:"max_bytes"`
	// Dir spills file contents to disk when set; only the index stays in memory
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{MaxBytes: 256 << 20}
}

type entry struct {
	key  string
	data []byte
	size int64
}

// Cache is safe for concurrent use.
type Cache struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element
	size  int64

	loads singleflight.Group
}

// New creates a cache. With a spill directory the directory is created.
func New(config Config, logger *slog.Logger) (*Cache, error) {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultConfig().MaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("filecache: create dir: %w", err)
		}
	}
	return &Cache{
		config: config,
		logger: logger.With("component", "filecache"),
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}, nil
}

// Set stores data under key, evicting the least recently used files until it
// fits. Replacing a key keeps a single entry.
func (c *Cache) Set(key string, data []byte) error {
	size := int64(len(data))
	if size > c.config.MaxBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, key, size)
	}

	e := &entry{key: key, size: size}
	if c.config.Dir != "" {
		if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
			return fmt.Errorf("filecache: write %s: %w", key, err)
		}
	} else {
		e.data = append([]byte(nil), data...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.size -= el.Value.(*entry).size
		c.order.Remove(el)
		delete(c.items, key)
	}
	for c.size+size > c.config.MaxBytes {
		c.evictOldest()
	}
	c.items[key] = c.order.PushFront(e)
	c.size += size
	metrics.CacheBytes.Set(float64(c.size))
	return nil
}

// Get returns the cached file and marks it recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	c.order.MoveToFront(el)
	e := el.Value.(*entry)
	c.mu.Unlock()

	if c.config.Dir == "" {
		return e.data, true
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.logger.Warn("Dropping unreadable cache file", "key", key, "error", err)
		c.Remove(key)
		return nil, false
	}
	return data, true
}

// GetOrLoad returns the cached file or calls load once for all concurrent
// callers of the same key and caches its result.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}
	v, err, _ := c.loads.Do(key, func() (interface{}, error) {
		if data, ok := c.Get(key); ok {
			return data, nil
		}
		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, data); err != nil && !errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) Exist(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Remove drops key and reports whether it was cached.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.drop(el)
	metrics.CacheBytes.Set(float64(c.size))
	return true
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the total bytes of cached files.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.drop(el)
	metrics.CacheEvictions.Inc()
}

// drop must be called with mu held.
func (c *Cache) drop(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.size -= e.size
	if c.config.Dir != "" {
		if err := os.Remove(c.path(e.key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to remove cache file", "key", e.key, "error", err)
		}
	}
}

// path names spilled files by a stable hash of the key, so any key maps to
// one flat file name.
func (c *Cache) path(key string) string {
	return filepath.Join(c.config.Dir, uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String())
}
