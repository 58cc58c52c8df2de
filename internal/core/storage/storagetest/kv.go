// Package storagetest holds behaviour suites every catalog engine must pass.
// Engine packages run them against real instances from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

// RunKVSuite exercises a freshly created, empty Db.
func RunKVSuite(t *testing.T, open func(t *testing.T) kv.Db) {
	t.Run("PutGetOverwrite", func(t *testing.T) {
		ctx := suiteCtx(t)
		db := openKV(t, open)

		require.NoError(t, db.Put(ctx, "/schema/org/logs/web", []byte("v1"), false))
		require.NoError(t, db.Put(ctx, "/schema/org/logs/web", []byte("v2"), false))

		v, err := db.Get(ctx, "/schema/org/logs/web")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)

		_, err = db.Get(ctx, "/schema/org/logs/missing")
		assert.ErrorIs(t, err, meta.ErrKeyNotExists)
	})

	t.Run("EmptyMiddleSegment", func(t *testing.T) {
		ctx := suiteCtx(t)
		db := openKV(t, open)

		require.NoError(t, db.Put(ctx, "/nodes//abc", []byte("n"), false))
		keys, err := db.ListKeys(ctx, "/nodes/")
		require.NoError(t, err)
		assert.Equal(t, []string{"/nodes//abc"}, keys)
	})

	t.Run("ListIsOrderedAndPrefixStrict", func(t *testing.T) {
		ctx := suiteCtx(t)
		db := openKV(t, open)

		for _, k := range []string{"/schema/org/b", "/schema/org/a", "/schema/org2/c", "/user/org/a"} {
			require.NoError(t, db.Put(ctx, k, []byte(k), false))
		}

		keys, err := db.ListKeys(ctx, "/schema/org/")
		require.NoError(t, err)
		assert.Equal(t, []string{"/schema/org/a", "/schema/org/b"}, keys)

		values, err := db.ListValues(ctx, "/schema/org/")
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("/schema/org/a"), []byte("/schema/org/b")}, values)

		keys, err = db.ListKeys(ctx, "/schema/org")
		require.NoError(t, err)
		assert.Equal(t, []string{"/schema/org/a", "/schema/org/b", "/schema/org2/c"}, keys)

		n, err := db.Count(ctx, "/schema/")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := suiteCtx(t)
		db := openKV(t, open)

		require.NoError(t, db.Put(ctx, "/a/1/x", []byte("1"), false))
		require.NoError(t, db.Put(ctx, "/a/1/y", []byte("2"), false))
		require.NoError(t, db.Put(ctx, "/a/2/x", []byte("3"), false))

		require.NoError(t, db.Delete(ctx, "/a/2/x", false, false))
		assert.ErrorIs(t, db.Delete(ctx, "/a/2/x", false, false), meta.ErrKeyNotExists)
		assert.NoError(t, kv.DeleteIfExists(ctx, db, "/a/2/x", false, false))

		require.NoError(t, db.Delete(ctx, "/a/1/", true, false))
		keys, err := db.ListKeys(ctx, "/a/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("WatchDeliversOnlyPrefix", func(t *testing.T) {
		ctx := suiteCtx(t)
		db := openKV(t, open)

		events, err := db.Watch(ctx, "/trigger/")
		require.NoError(t, err)

		require.NoError(t, db.Put(ctx, "/schema/org/x", []byte("s"), true))
		require.NoError(t, db.Put(ctx, "/trigger/org/x", []byte("t"), true))
		require.NoError(t, db.Delete(ctx, "/trigger/org/x", false, true))

		ev := nextEvent(t, events)
		assert.Equal(t, kv.EventPut, ev.Kind)
		assert.Equal(t, "/trigger/org/x", ev.Key)
		assert.Equal(t, []byte("t"), ev.Value)

		ev = nextEvent(t, events)
		assert.Equal(t, kv.EventDelete, ev.Kind)
		assert.Equal(t, "/trigger/org/x", ev.Key)
	})

	t.Run("Stats", func(t *testing.T) {
		ctx := suiteCtx(t)
		db := openKV(t, open)

		require.NoError(t, db.Put(ctx, "/s/a/b", []byte("12345"), false))
		st, err := db.Stats(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.Keys, int64(1))
	})
}

func openKV(t *testing.T, open func(t *testing.T) kv.Db) kv.Db {
	db := open(t)
	require.NoError(t, db.CreateTable(suiteCtx(t)))
	t.Cleanup(func() { db.Close() })
	return db
}

func nextEvent(t *testing.T, events <-chan kv.Event) kv.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return kv.Event{}
	}
}

func suiteCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
