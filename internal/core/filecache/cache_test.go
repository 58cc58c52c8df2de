package filecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/core/storage/pebble"
)

func newCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestCache_SetGetRemove(t *testing.T) {
	c := newCache(t, Config{MaxBytes: 100})

	require.NoError(t, c.Set("a", []byte("hello")))
	data, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.True(t, c.Exist("a"))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(5), c.Size())

	require.NoError(t, c.Set("a", []byte("hi")))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Size())

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.False(t, c.Exist("a"))
	assert.Zero(t, c.Size())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(t, Config{MaxBytes: 10})

	require.NoError(t, c.Set("a", []byte("aaaa")))
	require.NoError(t, c.Set("b", []byte("bbbb")))
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("c", []byte("cccc")))
	assert.True(t, c.Exist("a"))
	assert.False(t, c.Exist("b"))
	assert.True(t, c.Exist("c"))
	assert.Equal(t, int64(8), c.Size())
}

func TestCache_FullEvictsOldestFirst(t *testing.T) {
	c := newCache(t, Config{MaxBytes: 1024})
	data := make([]byte, 34)

	// 30 entries of 34 bytes fit in 1024.
	for i := 0; i < 30; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("file-%02d", i), data))
	}
	assert.Equal(t, 30, c.Len())
	assert.True(t, c.Exist("file-00"))

	for i := 30; i < 40; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("file-%02d", i), data))
	}
	assert.Equal(t, 30, c.Len())
	assert.LessOrEqual(t, c.Size(), int64(1024))
	for i := 0; i < 10; i++ {
		assert.False(t, c.Exist(fmt.Sprintf("file-%02d", i)))
	}
	assert.True(t, c.Exist("file-10"))
	assert.True(t, c.Exist("file-39"))
}

func TestCache_TooLarge(t *testing.T) {
	c := newCache(t, Config{MaxBytes: 3})
	assert.ErrorIs(t, c.Set("a", []byte("abcd")), ErrTooLarge)
	assert.Zero(t, c.Len())
}

func TestCache_SpillsToDisk(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, Config{MaxBytes: 10, Dir: dir})

	require.NoError(t, c.Set("files/org/logs/web/2024/01/01/00/a.parquet", []byte("12345")))
	require.NoError(t, c.Set("files/org/logs/web/2024/01/01/00/b.parquet", []byte("67890")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, ok := c.Get("files/org/logs/web/2024/01/01/00/a.parquet")
	require.True(t, ok)
	assert.Equal(t, []byte("12345"), data)

	// Evicting b removes its file.
	require.NoError(t, c.Set("files/org/logs/web/2024/01/01/00/c.parquet", []byte("x")))
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.False(t, c.Exist("files/org/logs/web/2024/01/01/00/b.parquet"))
}

func TestCache_UnreadableSpillIsDropped(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, Config{MaxBytes: 10, Dir: dir})
	require.NoError(t, c.Set("a", []byte("1")))
	require.NoError(t, os.Remove(c.path("a")))

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.Exist("a"))
}

func TestCache_GetOrLoadSingleFlight(t *testing.T) {
	c := newCache(t, Config{MaxBytes: 100})
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("data"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.GetOrLoad(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Equal(t, []byte("data"), data)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, c.Exist("k"))
}

func TestCache_GetOrLoadError(t *testing.T) {
	c := newCache(t, Config{MaxBytes: 100})
	_, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("object store down")
	})
	assert.EqualError(t, err, "object store down")
	assert.False(t, c.Exist("k"))
}

func TestInvalidate_RemovesAnnouncedFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := pebble.NewKV(config.PebbleConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	db := kv.NewStore(backend, nil)
	defer db.Close()

	c := newCache(t, Config{MaxBytes: 100})
	file := "files/org/logs/web/2024/01/01/00/a.parquet"
	require.NoError(t, c.Set(file, []byte("x")))
	require.NoError(t, c.Set("other", []byte("y")))

	require.NoError(t, Invalidate(ctx, db, EvictPrefix, c))
	require.NoError(t, NewAnnouncer(db, EvictPrefix, nil).RemoveFiles(ctx, []string{file}))

	assert.Eventually(t, func() bool { return !c.Exist(file) }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Exist("other"))

	n, err := db.Count(ctx, EvictPrefix)
	require.NoError(t, err)
	assert.Zero(t, n)
}
