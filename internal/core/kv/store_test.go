package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Name() string                          { return "memory" }
func (m *memBackend) CreateTable(ctx context.Context) error { return m.err }
func (m *memBackend) Close() error                          { return nil }

func (m *memBackend) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Keys: int64(len(m.data))}, nil
}

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, meta.ErrKeyNotExists
	}
	return v, nil
}

func (m *memBackend) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memBackend) Delete(ctx context.Context, key string, withPrefix bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for k := range m.data {
		if k == key || (withPrefix && strings.HasPrefix(k, key)) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memBackend) Count(ctx context.Context, prefix string) (int64, error) {
	entries, err := m.List(ctx, prefix)
	return int64(len(entries)), err
}

func TestStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "/schema/org/b", []byte("2"), false))
	require.NoError(t, s.Put(ctx, "/schema/org/a", []byte("1"), false))
	require.NoError(t, s.Put(ctx, "/user/org/a", []byte("x"), false))

	v, err := s.Get(ctx, "/schema/org/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	keys, err := s.ListKeys(ctx, "/schema/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/schema/org/a", "/schema/org/b"}, keys)

	values, err := s.ListValues(ctx, "/schema/")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, values)

	n, err := s.Count(ctx, "/schema/")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_DeleteMiss(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)

	err := s.Delete(ctx, "/nope/x", false, false)
	assert.ErrorIs(t, err, meta.ErrKeyNotExists)

	assert.NoError(t, DeleteIfExists(ctx, s, "/nope/x", false, false))
}

func TestDeleteIfExists_PropagatesOtherErrors(t *testing.T) {
	backend := newMemBackend()
	backend.err = errors.New("disk full")
	s := NewStore(backend, nil)

	err := DeleteIfExists(context.Background(), s, "/a/b", false, false)
	assert.EqualError(t, err, "disk full")
}

func TestStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)
	require.NoError(t, s.Put(ctx, "/a/1/x", []byte("1"), false))
	require.NoError(t, s.Put(ctx, "/a/1/y", []byte("2"), false))
	require.NoError(t, s.Put(ctx, "/a/2/x", []byte("3"), false))

	require.NoError(t, s.Delete(ctx, "/a/1/", true, false))

	keys, err := s.ListKeys(ctx, "/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/2/x"}, keys)
}

func TestStore_WatchOnlyPrefixMatching(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewStore(newMemBackend(), nil)

	events, err := s.Watch(ctx, "/trigger/")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "/schema/org/x", []byte("s"), true))
	require.NoError(t, s.Put(ctx, "/trigger/org/x", []byte("t"), true))
	require.NoError(t, s.Delete(ctx, "/trigger/org/x", false, true))

	ev := <-events
	assert.Equal(t, EventPut, ev.Kind)
	assert.Equal(t, "/trigger/org/x", ev.Key)
	assert.Equal(t, []byte("t"), ev.Value)

	ev = <-events
	assert.Equal(t, EventDelete, ev.Kind)
	assert.Equal(t, "/trigger/org/x", ev.Key)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// shuffledBackend lists in reverse key order.
type shuffledBackend struct{ *memBackend }

func (b shuffledBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	out, err := b.memBackend.List(ctx, prefix)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

func TestStore_ListOrdersByKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore(shuffledBackend{newMemBackend()}, nil)
	for _, k := range []string{"/schema/org/a", "/schema/org/b", "/schema/org2/c"} {
		require.NoError(t, s.Put(ctx, k, []byte(k), false))
	}

	keys, err := s.ListKeys(ctx, "/schema/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/schema/org/a", "/schema/org/b", "/schema/org2/c"}, keys)
}

func TestStore_PrefixDeleteNotifiesEachKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewStore(newMemBackend(), nil)
	require.NoError(t, s.Put(ctx, "/filecache/evict/files/a", []byte{}, false))
	require.NoError(t, s.Put(ctx, "/filecache/evict/files/b", []byte{}, false))
	require.NoError(t, s.Put(ctx, "/filecache/evict/other", []byte{}, false))

	events, err := s.Watch(ctx, "/filecache/evict/files/")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "/filecache/evict/", true, true))

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-events:
			assert.Equal(t, EventDelete, ev.Kind)
			got = append(got, ev.Key)
		case <-ctx.Done():
			t.Fatalf("missing delete events, got %v", got)
		}
	}
	assert.Equal(t, []string{"/filecache/evict/files/a", "/filecache/evict/files/b"}, got)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_LocalLease(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)

	ok, err := s.AcquireLease(ctx, "/lease/x", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AcquireLease(ctx, "/lease/x", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "/lease/x", "b"))
	ok, err = s.AcquireLease(ctx, "/lease/x", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "/lease/x", "a"))
	ok, err = s.AcquireLease(ctx, "/lease/x", "b", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	ok, err = s.AcquireLease(ctx, "/lease/x", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_PutWithoutWatchIsSilent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewStore(newMemBackend(), nil)

	events, err := s.Watch(ctx, "/trigger/")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "/trigger/org/x", []byte("t"), false))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := hub.Subscribe(ctx, "/a/")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(4)
	ch, err := hub.Subscribe(context.Background(), "/a/")
	require.NoError(t, err)

	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)

	_, err = hub.Subscribe(context.Background(), "/a/")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, hub.Publish(context.Background(), Event{Key: "/a/x"}), ErrHubClosed)
}
