package filelist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

func TestDeltasFor(t *testing.T) {
	files := []meta.FileKey{
		{Key: "files/a/logs/web/2024/01/01/00/1.parquet",
			Meta: meta.FileMeta{MinTS: 100, MaxTS: 200, Records: 10, OriginalSize: 1000, CompressedSize: 100}},
		{Key: "files/a/logs/web/2024/01/01/01/2.parquet",
			Meta: meta.FileMeta{MinTS: 50, MaxTS: 300, Records: 5, OriginalSize: 500, CompressedSize: 50}},
		{Key: "files/a/logs/web/2024/01/01/00/0.parquet", Deleted: true,
			Meta: meta.FileMeta{MinTS: 10, MaxTS: 20, Records: 3, OriginalSize: 300, CompressedSize: 30}},
		{Key: "files/b/metrics/cpu/2024/01/01/00/1.parquet",
			Meta: meta.FileMeta{MinTS: 7, MaxTS: 8, Records: 1, OriginalSize: 10, CompressedSize: 1}},
	}

	got, err := DeltasFor(files)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Len(t, got["a"], 1)
	web := got["a"][0]
	assert.Equal(t, "a/logs/web", web.StreamKey)
	assert.Equal(t, meta.StreamStats{
		FileNum:        1,
		DocNum:         12,
		DocTimeMin:     50,
		DocTimeMax:     300,
		StorageSize:    1200,
		CompressedSize: 120,
	}, web.Stats)

	require.Len(t, got["b"], 1)
	assert.Equal(t, "b/metrics/cpu", got["b"][0].StreamKey)
	assert.Equal(t, int64(1), got["b"][0].Stats.FileNum)
}

func TestDeltasFor_InvalidKey(t *testing.T) {
	_, err := DeltasFor([]meta.FileKey{{Key: "files/a/logs"}})
	assert.ErrorIs(t, err, meta.ErrInvalidKey)
}

func TestGroupByOrg_Sorted(t *testing.T) {
	got, err := GroupByOrg([]meta.StreamStatsEntry{
		{StreamKey: "a/logs/z"},
		{StreamKey: "a/logs/b"},
		{StreamKey: "c/traces/x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a/logs/b", got["a"][0].StreamKey)
	assert.Equal(t, "a/logs/z", got["a"][1].StreamKey)
	assert.Len(t, got["c"], 1)
}

func TestStreamMatch(t *testing.T) {
	tests := []struct {
		org, name string
		typ       meta.StreamType
		key       string
		exact     bool
	}{
		{"", "", "", "", false},
		{"org", "", "", "org/", false},
		{"org", "", meta.StreamTypeLogs, "org/logs/", false},
		{"org", "web", meta.StreamTypeLogs, "org/logs/web", true},
	}
	for _, tt := range tests {
		key, exact := StreamMatch(tt.org, tt.typ, tt.name)
		assert.Equal(t, tt.key, key)
		assert.Equal(t, tt.exact, exact)
	}
}

func TestQueryBounds(t *testing.T) {
	_, _, err := QueryBounds(0, 0)
	assert.ErrorIs(t, err, meta.ErrDisallowedQuery)

	start, end, err := QueryBounds(10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(20), end)

	before := meta.NowMicros()
	_, end, err = QueryBounds(10, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, end, before)
}

func TestQueryStream(t *testing.T) {
	key, err := QueryStream("org", meta.StreamTypeLogs, "web")
	require.NoError(t, err)
	assert.Equal(t, "org/logs/web", key)

	_, err = QueryStream("org", "", "web")
	assert.ErrorIs(t, err, meta.ErrDisallowedQuery)
}

func TestDirectoryRange(t *testing.T) {
	base := time.Date(2024, 1, 2, 5, 30, 0, 0, time.UTC).UnixMicro()
	hour := time.Hour.Microseconds()

	lower, upper := DirectoryRange(meta.PartitionTimeLevelHourly, base, base+hour)
	assert.Equal(t, "2024/01/02/04", lower)
	assert.Equal(t, "2024/01/02/06", upper)

	lower, upper = DirectoryRange(meta.PartitionTimeLevelDaily, base, base+hour)
	assert.Equal(t, "2024/01/01", lower)
	assert.Equal(t, "2024/01/02", upper)

	lower, upper = DirectoryRange(meta.PartitionTimeLevelUnset, base, base+72*hour)
	assert.Equal(t, "2024/01/01", lower)
	assert.Equal(t, "2024/01/05", upper)

	lower, _ = DirectoryRange(meta.PartitionTimeLevelUnset, 0, base)
	assert.Empty(t, lower)
	lower, _ = DirectoryRange(meta.PartitionTimeLevelHourly, hour/2, hour)
	assert.Empty(t, lower)
}

func TestDeletedWindow(t *testing.T) {
	assert.True(t, DeletedWindow(1))
	assert.False(t, DeletedWindow(0))
	assert.False(t, DeletedWindow(-1))
}
