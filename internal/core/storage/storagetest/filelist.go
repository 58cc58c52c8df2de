package storagetest

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

// Base is 2024-01-01T00:00:00Z in microseconds. File keys built by FileAt use
// the hour directory of their min timestamp, as the ingestion pipeline does.
var Base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMicro()

// FileAt builds a file of org/logs/stream covering [min, max].
func FileAt(org, stream, name string, min, max, records int64) meta.FileKey {
	streamKey := meta.BuildStreamKey(org, meta.StreamTypeLogs, stream)
	return meta.FileKey{
		Key: meta.BuildFileKey(streamKey, meta.DateKey(min), name),
		Meta: meta.FileMeta{
			MinTS:          min,
			MaxTS:          max,
			Records:        records,
			OriginalSize:   records * 100,
			CompressedSize: records * 10,
		},
	}
}

// RunFileListSuite exercises a freshly created, empty FileList.
func RunFileListSuite(t *testing.T, open func(t *testing.T) filelist.FileList) {
	t.Run("Initialised", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := open(t)
		t.Cleanup(func() { fl.Close() })

		require.NoError(t, fl.CreateTable(ctx))
		require.NoError(t, fl.CreateTable(ctx))
		require.NoError(t, fl.CreateTableIndex(ctx))
		require.NoError(t, fl.CreateTableIndex(ctx))

		ok, err := fl.GetInitialised(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, fl.SetInitialised(ctx))
		ok, err = fl.GetInitialised(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("AddIsIdempotent", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		f := FileAt("org", "web", "a.parquet", Base+10, Base+20, 5)
		require.NoError(t, fl.Add(ctx, f.Key, f.Meta))
		require.NoError(t, fl.Add(ctx, f.Key, meta.FileMeta{MinTS: Base, MaxTS: Base + 99, Records: 1}))

		n, err := fl.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := fl.Get(ctx, f.Key)
		require.NoError(t, err)
		assert.Equal(t, f.Meta, got)

		ok, err := fl.Contains(ctx, f.Key)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = fl.Get(ctx, FileAt("org", "web", "zz.parquet", Base, Base, 1).Key)
		assert.ErrorIs(t, err, meta.ErrKeyNotExists)
	})

	t.Run("BatchAddSurvivesCollision", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		var files []meta.FileKey
		for i := 0; i < 60; i++ {
			files = append(files, FileAt("org", "web", fmt.Sprintf("%03d.parquet", i), Base+int64(i), Base+int64(i)+5, 1))
		}
		require.NoError(t, fl.Add(ctx, files[27].Key, files[27].Meta))

		require.NoError(t, fl.BatchAdd(ctx, files))

		n, err := fl.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len(files)), n)
		for _, f := range files {
			ok, err := fl.Contains(ctx, f.Key)
			require.NoError(t, err)
			assert.True(t, ok, f.Key)
		}
	})

	t.Run("RemoveAndBatchProcess", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		a := FileAt("org", "web", "a.parquet", Base, Base+1, 1)
		b := FileAt("org", "web", "b.parquet", Base, Base+1, 1)
		c := FileAt("org", "web", "c.parquet", Base, Base+1, 1)
		require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{a, b}))

		require.NoError(t, fl.Remove(ctx, c.Key))
		gone := b
		gone.Deleted = true
		require.NoError(t, filelist.BatchProcess(ctx, fl, []meta.FileKey{c, gone}))

		for key, want := range map[string]bool{a.Key: true, b.Key: false, c.Key: true} {
			ok, err := fl.Contains(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, want, ok, key)
		}

		require.NoError(t, fl.BatchRemove(ctx, []string{a.Key, c.Key}))
		empty, err := fl.IsEmpty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)
	})

	t.Run("QueryOverlap", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		f := FileAt("org", "web", "a.parquet", Base+10, Base+20, 1)
		other := FileAt("org", "api", "a.parquet", Base+10, Base+20, 1)
		later := FileAt("org", "web", "b.parquet", Base+3*3600_000_000, Base+3*3600_000_000+5, 1)
		require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{f, other, later}))

		got, err := fl.Query(ctx, "org", meta.StreamTypeLogs, "web", meta.PartitionTimeLevelHourly, Base+15, Base+25)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, f.Key, got[0].Key)
		assert.Equal(t, f.Meta, got[0].Meta)

		got, err = fl.Query(ctx, "org", meta.StreamTypeLogs, "web", meta.PartitionTimeLevelHourly, Base+21, Base+30)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = fl.Query(ctx, "org", meta.StreamTypeLogs, "web", meta.PartitionTimeLevelUnset, Base, Base+4*3600_000_000)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = fl.Query(ctx, "org", meta.StreamTypeLogs, "web", meta.PartitionTimeLevelUnset, 0, Base+25)
		require.NoError(t, err)
		assert.Len(t, got, 1)

		_, err = fl.Query(ctx, "org", meta.StreamTypeLogs, "web", meta.PartitionTimeLevelUnset, 0, 0)
		assert.ErrorIs(t, err, meta.ErrDisallowedQuery)
	})

	t.Run("QueryReachesPreviousDirectory", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)
		minute := time.Minute.Microseconds()
		day := 24 * time.Hour.Microseconds()

		// Filed under hour 00, running into hour 01.
		hourly := FileAt("org", "edge", "a.parquet", Base+50*minute, Base+80*minute, 1)
		// Filed under day 01, running into day 02.
		daily := FileAt("org", "edge", "b.parquet", Base+day-10*minute, Base+day+30*minute, 1)
		require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{hourly, daily}))

		got, err := fl.Query(ctx, "org", meta.StreamTypeLogs, "edge", meta.PartitionTimeLevelHourly, Base+65*minute, Base+75*minute)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, hourly.Key, got[0].Key)

		got, err = fl.Query(ctx, "org", meta.StreamTypeLogs, "edge", meta.PartitionTimeLevelDaily, Base+day+10*minute, Base+day+20*minute)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, daily.Key, got[0].Key)
	})

	t.Run("List", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{
			FileAt("org", "web", "a.parquet", Base, Base+1, 1),
			FileAt("org", "api", "a.parquet", Base, Base+1, 1),
		}))
		all, err := fl.List(ctx)
		if errors.Is(err, meta.ErrDisallowedQuery) {
			t.Skip("engine refuses full scans")
		}
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("Tombstones", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		a := FileAt("org", "web", "a.parquet", Base, Base+1, 1).Key
		b := FileAt("org", "web", "b.parquet", Base, Base+1, 1).Key
		require.NoError(t, fl.BatchAddDeleted(ctx, "org", 100, []string{a, b}))
		require.NoError(t, fl.BatchAddDeleted(ctx, "org", 100, []string{a}))

		got, err := fl.QueryDeleted(ctx, "org", 101, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b}, got)

		got, err = fl.QueryDeleted(ctx, "org", 100, 10)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = fl.QueryDeleted(ctx, "other", 101, 10)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = fl.QueryDeleted(ctx, "org", 101, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = fl.QueryDeleted(ctx, "org", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, got)

		early := FileAt("early", "web", "a.parquet", Base, Base+1, 1).Key
		require.NoError(t, fl.BatchAddDeleted(ctx, "early", -5, []string{early}))
		for _, cutoff := range []int64{0, -1} {
			got, err = fl.QueryDeleted(ctx, "early", cutoff, 10)
			require.NoError(t, err)
			assert.Empty(t, got, cutoff)
		}
		got, err = fl.QueryDeleted(ctx, "early", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{early}, got)

		require.NoError(t, fl.BatchRemoveDeleted(ctx, []string{a}))
		got, err = fl.QueryDeleted(ctx, "org", 101, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{b}, got)
	})

	t.Run("StatsMatchIncrementalRollup", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		files := []meta.FileKey{
			FileAt("org", "web", "a.parquet", Base+10, Base+20, 3),
			FileAt("org", "web", "b.parquet", Base+5, Base+50, 4),
			FileAt("org", "api", "a.parquet", Base+7, Base+8, 1),
			FileAt("other", "web", "a.parquet", Base+1, Base+2, 9),
		}
		require.NoError(t, fl.BatchAdd(ctx, files))

		maxPK, err := fl.GetMaxPKValue(ctx)
		require.NoError(t, err)
		assert.Greater(t, maxPK, int64(0))

		full, err := fl.Stats(ctx, "org", "", "", nil)
		require.NoError(t, err)
		require.Len(t, full, 2)
		assert.Equal(t, "org/logs/api", full[0].StreamKey)
		assert.Equal(t, "org/logs/web", full[1].StreamKey)
		assert.Equal(t, meta.StreamStats{FileNum: 2, DocNum: 7, DocTimeMin: Base + 5, DocTimeMax: Base + 50,
			StorageSize: 700, CompressedSize: 70}, full[1].Stats)

		exact, err := fl.Stats(ctx, "org", meta.StreamTypeLogs, "web", nil)
		require.NoError(t, err)
		require.Len(t, exact, 1)
		assert.Equal(t, full[1], exact[0])

		deltas, err := filelist.DeltasFor(files)
		require.NoError(t, err)
		require.NoError(t, fl.SetStreamStats(ctx, "org", deltas["org"]))

		rolled, err := fl.GetStreamStats(ctx, "org", "", "")
		require.NoError(t, err)
		assert.Equal(t, full, rolled)
	})

	t.Run("SetStreamStatsMergeAndReset", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)
		stream := "org/logs/web"

		require.NoError(t, fl.SetStreamStats(ctx, "org", []meta.StreamStatsEntry{{StreamKey: stream,
			Stats: meta.StreamStats{FileNum: 2, DocNum: 20, DocTimeMin: 10, DocTimeMax: 20, StorageSize: 200, CompressedSize: 20}}}))
		require.NoError(t, fl.SetStreamStats(ctx, "org", []meta.StreamStatsEntry{{StreamKey: stream,
			Stats: meta.StreamStats{FileNum: -1, DocNum: -5, DocTimeMin: 5, DocTimeMax: 30, StorageSize: -50, CompressedSize: -5}}}))

		got := streamStats(t, fl, "org", "web")
		assert.Equal(t, meta.StreamStats{FileNum: 1, DocNum: 15, DocTimeMin: 5, DocTimeMax: 30,
			StorageSize: 150, CompressedSize: 15}, got)

		require.NoError(t, fl.SetStreamStats(ctx, "org", []meta.StreamStatsEntry{{StreamKey: stream,
			Stats: meta.StreamStats{FileNum: -9, DocNum: -90, StorageSize: -900, CompressedSize: -90}}}))
		got = streamStats(t, fl, "org", "web")
		assert.Equal(t, meta.StreamStats{DocTimeMin: 5, DocTimeMax: 30}, got)

		require.NoError(t, fl.ResetStreamStatsMinTS(ctx, "org", stream, 7))
		assert.Equal(t, int64(7), streamStats(t, fl, "org", "web").DocTimeMin)

		require.NoError(t, fl.ResetStreamStats(ctx, "org", nil))
		assert.Equal(t, meta.StreamStats{}, streamStats(t, fl, "org", "web"))
	})

	t.Run("Clear", func(t *testing.T) {
		ctx := suiteCtx(t)
		fl := openFileList(t, open)

		require.NoError(t, fl.BatchAdd(ctx, []meta.FileKey{FileAt("org", "web", "a.parquet", Base, Base+1, 1)}))
		require.NoError(t, fl.Clear(ctx))

		empty, err := fl.IsEmpty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)
	})
}

func openFileList(t *testing.T, open func(t *testing.T) filelist.FileList) filelist.FileList {
	ctx := suiteCtx(t)
	fl := open(t)
	require.NoError(t, fl.CreateTable(ctx))
	require.NoError(t, fl.CreateTableIndex(ctx))
	t.Cleanup(func() { fl.Close() })
	return fl
}

func streamStats(t *testing.T, fl filelist.FileList, org, name string) meta.StreamStats {
	t.Helper()
	got, err := fl.GetStreamStats(suiteCtx(t), org, meta.StreamTypeLogs, name)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0].Stats
}
