// Package filelist defines the file catalog contract and the batching
// discipline shared by every backend.
package filelist

import (
	"context"

	"github.com/syntrixbase/catalog/internal/core/meta"
)

// Chunk sizes used by backends for batch operations.
const (
	// SQLChunkSize bounds one multi-row INSERT/DELETE transaction.
	SQLChunkSize = 100
	// DocumentChunkSize matches per-request item caps of partition-key stores.
	DocumentChunkSize = 25
)

// FileList is the file catalog contract.
type FileList interface {
	// CreateTable creates tables, collections or key spaces. Idempotent.
	CreateTable(ctx context.Context) error
	// CreateTableIndex creates secondary indexes. Idempotent.
	CreateTableIndex(ctx context.Context) error
	SetInitialised(ctx context.Context) error
	GetInitialised(ctx context.Context) (bool, error)

	// Add registers one file. Registering an existing file is a no-op.
	Add(ctx context.Context, file string, m meta.FileMeta) error
	// Remove deletes one file; a missing file is not an error.
	Remove(ctx context.Context, file string) error
	BatchAdd(ctx context.Context, files []meta.FileKey) error
	BatchRemove(ctx context.Context, files []string) error
	BatchAddDeleted(ctx context.Context, org string, createdAt int64, files []string) error
	BatchRemoveDeleted(ctx context.Context, files []string) error

	// Get returns meta.ErrKeyNotExists if the file is not registered.
	Get(ctx context.Context, file string) (meta.FileMeta, error)
	Contains(ctx context.Context, file string) (bool, error)
	// List returns every file. Administrative use only.
	List(ctx context.Context) ([]meta.FileRecord, error)
	// Query returns files of one stream whose [min_ts, max_ts] overlaps
	// [timeMin, timeMax].
	Query(ctx context.Context, org string, streamType meta.StreamType, streamName string,
		timeLevel meta.PartitionTimeLevel, timeMin, timeMax int64) ([]meta.FileRecord, error)
	// QueryDeleted returns tombstoned file keys created before timeMax.
	QueryDeleted(ctx context.Context, org string, timeMax int64, limit int64) ([]string, error)
	GetMaxPKValue(ctx context.Context) (int64, error)

	// Stats aggregates file metadata per stream, fully or restricted to pkRange.
	Stats(ctx context.Context, org string, streamType meta.StreamType, streamName string,
		pkRange *meta.PKRange) ([]meta.StreamStatsEntry, error)
	GetStreamStats(ctx context.Context, org string, streamType meta.StreamType,
		streamName string) ([]meta.StreamStatsEntry, error)
	// SetStreamStats merges deltas into the stored rollups of org.
	SetStreamStats(ctx context.Context, org string, deltas []meta.StreamStatsEntry) error
	// ResetStreamStats zeroes the rollups of org, or only of streams when given.
	ResetStreamStats(ctx context.Context, org string, streams []string) error
	// ResetStreamStatsMinTS moves the lower time bound of one stream.
	ResetStreamStatsMinTS(ctx context.Context, org, stream string, minTS int64) error

	Len(ctx context.Context) (int64, error)
	IsEmpty(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
	Close() error
}
