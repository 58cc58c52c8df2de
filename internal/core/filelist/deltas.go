package filelist

import (
	"fmt"
	"sort"
	"time"

	"github.com/syntrixbase/catalog/internal/core/meta"
)

// DeltasFor turns a batch of added and removed files into signed per-stream
// deltas, grouped by org, ready for SetStreamStats.
func DeltasFor(files []meta.FileKey) (map[string][]meta.StreamStatsEntry, error) {
	byStream := make(map[string]*meta.StreamStats)
	for _, f := range files {
		stream, _, _, err := meta.ParseFileKeyColumns(f.Key)
		if err != nil {
			return nil, err
		}
		s, ok := byStream[stream]
		if !ok {
			s = &meta.StreamStats{}
			byStream[stream] = s
		}
		s.Add(meta.StatsForFile(f.Meta, f.Deleted))
	}

	entries := make([]meta.StreamStatsEntry, 0, len(byStream))
	for stream, s := range byStream {
		entries = append(entries, meta.StreamStatsEntry{StreamKey: stream, Stats: *s})
	}
	return GroupByOrg(entries)
}

// GroupByOrg buckets stats entries by the org segment of their stream key.
// Each bucket is sorted by stream key.
func GroupByOrg(entries []meta.StreamStatsEntry) (map[string][]meta.StreamStatsEntry, error) {
	out := make(map[string][]meta.StreamStatsEntry)
	for _, e := range entries {
		org, _, _, err := meta.ParseStreamKey(e.StreamKey)
		if err != nil {
			return nil, err
		}
		out[org] = append(out[org], e)
	}
	for org := range out {
		sort.Slice(out[org], func(i, j int) bool {
			return out[org][i].StreamKey < out[org][j].StreamKey
		})
	}
	return out, nil
}

// StreamMatch describes which streams a Stats or GetStreamStats call covers:
// an exact stream key when org, type and name are all set, otherwise a stream
// key prefix ("" matches every stream).
func StreamMatch(org string, streamType meta.StreamType, streamName string) (key string, exact bool) {
	switch {
	case org == "":
		return "", false
	case streamType == "":
		return org + "/", false
	case streamName == "":
		return org + "/" + string(streamType) + "/", false
	default:
		return meta.BuildStreamKey(org, streamType, streamName), true
	}
}

// QueryBounds applies the time range policy shared by every backend: both
// bounds zero is refused, a zero end means now.
func QueryBounds(timeMin, timeMax int64) (int64, int64, error) {
	if timeMin == 0 && timeMax == 0 {
		return 0, 0, meta.ErrDisallowedQuery
	}
	if timeMax == 0 {
		timeMax = meta.NowMicros()
	}
	return timeMin, timeMax, nil
}

// WideQueryRange is the span past which Query ranges over day directories
// instead of hour directories.
const WideQueryRange = 48 * time.Hour

// DirectoryRange returns the first and last date directory a Query over
// [timeMin, timeMax] scans on engines that range over the date in the key.
// A file sits under the directory of its min timestamp, so the range opens
// one directory before timeMin to reach files that started there and run
// into the window. lower is empty when the scan is open below.
func DirectoryRange(timeLevel meta.PartitionTimeLevel, timeMin, timeMax int64) (lower, upper string) {
	dateKey, step := meta.DateKey, time.Hour
	if timeLevel == meta.PartitionTimeLevelDaily || time.Duration(timeMax-timeMin)*time.Microsecond > WideQueryRange {
		dateKey, step = meta.DayKey, 24*time.Hour
	}
	upper = dateKey(timeMax)
	if from := timeMin - step.Microseconds(); timeMin > 0 && from > 0 {
		lower = dateKey(from)
	}
	return lower, upper
}

// DeletedWindow reports whether a QueryDeleted cutoff can select tombstones.
// A zero or negative cutoff selects none.
func DeletedWindow(timeMax int64) bool {
	return timeMax > 0
}

// QueryStream returns the stream key a Query call addresses. Query always
// targets one stream, so org, type and name are required.
func QueryStream(org string, streamType meta.StreamType, streamName string) (string, error) {
	if org == "" || streamType == "" || streamName == "" {
		return "", fmt.Errorf("%w: query needs org, stream type and stream name", meta.ErrDisallowedQuery)
	}
	return meta.BuildStreamKey(org, streamType, streamName), nil
}
