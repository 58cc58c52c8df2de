package meta

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamStats_Merge(t *testing.T) {
	var s StreamStats
	s.Merge(StatsForFile(FileMeta{MinTS: 100, MaxTS: 200, Records: 10, OriginalSize: 1000, CompressedSize: 100}, false))
	s.Merge(StatsForFile(FileMeta{MinTS: 50, MaxTS: 150, Records: 5, OriginalSize: 500, CompressedSize: 50}, false))

	assert.Equal(t, int64(2), s.FileNum)
	assert.Equal(t, int64(15), s.DocNum)
	assert.Equal(t, int64(50), s.DocTimeMin)
	assert.Equal(t, int64(200), s.DocTimeMax)
	assert.Equal(t, 1500.0, s.StorageSize)
	assert.Equal(t, 150.0, s.CompressedSize)
}

func TestStreamStats_MergeClampsAtZero(t *testing.T) {
	s := StreamStats{FileNum: 1, DocNum: 3, StorageSize: 10, CompressedSize: 1, DocTimeMin: 5, DocTimeMax: 9}
	s.Merge(StatsForFile(FileMeta{MinTS: 1, MaxTS: 2, Records: 100, OriginalSize: 1000, CompressedSize: 100}, true))

	assert.Equal(t, int64(0), s.FileNum)
	assert.Equal(t, int64(0), s.DocNum)
	assert.Equal(t, 0.0, s.StorageSize)
	assert.Equal(t, 0.0, s.CompressedSize)
	// removals never move the time bounds
	assert.Equal(t, int64(5), s.DocTimeMin)
	assert.Equal(t, int64(9), s.DocTimeMax)
}

func TestStreamStats_MergeUninitializedMin(t *testing.T) {
	s := StreamStats{}
	s.Merge(StreamStats{DocTimeMin: 0, DocTimeMax: 0})
	assert.Equal(t, int64(0), s.DocTimeMin)

	s.Merge(StreamStats{DocTimeMin: 77, DocTimeMax: 88})
	assert.Equal(t, int64(77), s.DocTimeMin)
	assert.Equal(t, int64(88), s.DocTimeMax)
}

func TestFileMeta_Overlaps(t *testing.T) {
	m := FileMeta{MinTS: 10, MaxTS: 20}
	assert.True(t, m.Overlaps(15, 25))
	assert.True(t, m.Overlaps(0, 10))
	assert.True(t, m.Overlaps(20, 30))
	assert.True(t, m.Overlaps(12, 18))
	assert.False(t, m.Overlaps(21, 30))
	assert.False(t, m.Overlaps(1, 9))
}

func TestPKRange_IsFull(t *testing.T) {
	var r *PKRange
	assert.True(t, r.IsFull())
	assert.True(t, (&PKRange{}).IsFull())
	assert.False(t, (&PKRange{Min: 1, Max: 5}).IsFull())
}

func TestWrapBackend(t *testing.T) {
	assert.NoError(t, WrapBackend("pebble", "get", nil))
	assert.Equal(t, ErrKeyNotExists, WrapBackend("pebble", "get", ErrKeyNotExists))

	err := WrapBackend("postgres", "insert", errors.New("connection refused"))
	assert.True(t, IsBackendError(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "postgres insert")

	// already wrapped errors are not wrapped twice
	assert.Equal(t, err, WrapBackend("postgres", "insert", err))
}
