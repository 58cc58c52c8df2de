// Package meta holds the data model shared by every catalog backend: file keys,
// file metadata, per-stream statistics and the error taxonomy.
package meta

import "time"

// StreamType is the kind of data a stream carries.
type StreamType string

const (
	StreamTypeLogs             StreamType = "logs"
	StreamTypeMetrics          StreamType = "metrics"
	StreamTypeTraces           StreamType = "traces"
	StreamTypeMetadata         StreamType = "metadata"
	StreamTypeIndex            StreamType = "index"
	StreamTypeEnrichmentTables StreamType = "enrichment_tables"
)

// IsValid checks if the stream type is known
func (t StreamType) IsValid() bool {
	switch t {
	case StreamTypeLogs, StreamTypeMetrics, StreamTypeTraces,
		StreamTypeMetadata, StreamTypeIndex, StreamTypeEnrichmentTables:
		return true
	default:
		return false
	}
}

// PartitionTimeLevel is the granularity of the date directory a stream is written with.
type PartitionTimeLevel string

const (
	PartitionTimeLevelUnset  PartitionTimeLevel = ""
	PartitionTimeLevelHourly PartitionTimeLevel = "hourly"
	PartitionTimeLevelDaily  PartitionTimeLevel = "daily"
)

// FileMeta describes one immutable data file. Timestamps are unix microseconds.
type FileMeta struct {
	MinTS          int64 `json:"min_ts" bson:"min_ts"`
	MaxTS          int64 `json:"max_ts" bson:"max_ts"`
	Records        int64 `json:"records" bson:"records"`
	OriginalSize   int64 `json:"original_size" bson:"original_size"`
	CompressedSize int64 `json:"compressed_size" bson:"compressed_size"`
}

// IsEmpty reports whether the meta was never filled in.
func (m FileMeta) IsEmpty() bool {
	return m == FileMeta{}
}

// Overlaps reports whether [MinTS, MaxTS] intersects [start, end].
func (m FileMeta) Overlaps(start, end int64) bool {
	return m.MinTS <= end && m.MaxTS >= start
}

// FileKey is a file path plus its meta, as produced by the ingestion pipeline.
// Deleted marks a removal request when the key is passed to BatchProcess.
type FileKey struct {
	Key     string   `json:"key"`
	Meta    FileMeta `json:"meta"`
	Deleted bool     `json:"deleted"`
}

// FileRecord is one (key, meta) pair returned by List and Query.
type FileRecord struct {
	Key  string
	Meta FileMeta
}

// PKRange bounds an incremental stats computation to (Min, Max].
type PKRange struct {
	Min int64
	Max int64
}

// IsFull reports whether the range asks for a full recompute.
func (r *PKRange) IsFull() bool {
	return r == nil || (r.Min == 0 && r.Max == 0)
}

// StreamStatsEntry pairs a stream key with its rollup.
type StreamStatsEntry struct {
	StreamKey string
	Stats     StreamStats
}

// NowMicros returns the current wall clock in unix microseconds.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
