package meta

// StreamStats is the rollup of all live files of one stream.
type StreamStats struct {
	FileNum        int64   `json:"file_num" bson:"file_num"`
	DocNum         int64   `json:"doc_num" bson:"doc_num"`
	DocTimeMin     int64   `json:"doc_time_min" bson:"doc_time_min"`
	DocTimeMax     int64   `json:"doc_time_max" bson:"doc_time_max"`
	StorageSize    float64 `json:"storage_size" bson:"storage_size"`
	CompressedSize float64 `json:"compressed_size" bson:"compressed_size"`
}

// StatsForFile returns the delta one file contributes. removed flips the sign of
// the counters; time bounds are only carried for additions.
func StatsForFile(m FileMeta, removed bool) StreamStats {
	if removed {
		return StreamStats{
			FileNum:        -1,
			DocNum:         -m.Records,
			StorageSize:    -float64(m.OriginalSize),
			CompressedSize: -float64(m.CompressedSize),
		}
	}
	return StreamStats{
		FileNum:        1,
		DocNum:         m.Records,
		DocTimeMin:     m.MinTS,
		DocTimeMax:     m.MaxTS,
		StorageSize:    float64(m.OriginalSize),
		CompressedSize: float64(m.CompressedSize),
	}
}

// Merge folds delta into s. Counters add and clamp at zero, DocTimeMin takes the
// smaller non-zero bound and DocTimeMax the larger one.
func (s *StreamStats) Merge(delta StreamStats) {
	s.FileNum = clampInt(s.FileNum + delta.FileNum)
	s.DocNum = clampInt(s.DocNum + delta.DocNum)
	if delta.DocTimeMin > 0 && (s.DocTimeMin == 0 || delta.DocTimeMin < s.DocTimeMin) {
		s.DocTimeMin = delta.DocTimeMin
	}
	if delta.DocTimeMax > s.DocTimeMax {
		s.DocTimeMax = delta.DocTimeMax
	}
	s.StorageSize = clampFloat(s.StorageSize + delta.StorageSize)
	s.CompressedSize = clampFloat(s.CompressedSize + delta.CompressedSize)
}

// Add is Merge without the zero clamp, used to sum deltas before they are applied.
func (s *StreamStats) Add(delta StreamStats) {
	s.FileNum += delta.FileNum
	s.DocNum += delta.DocNum
	if delta.DocTimeMin > 0 && (s.DocTimeMin == 0 || delta.DocTimeMin < s.DocTimeMin) {
		s.DocTimeMin = delta.DocTimeMin
	}
	if delta.DocTimeMax > s.DocTimeMax {
		s.DocTimeMax = delta.DocTimeMax
	}
	s.StorageSize += delta.StorageSize
	s.CompressedSize += delta.CompressedSize
}

func clampInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
