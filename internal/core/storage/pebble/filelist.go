package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
)

// Key spaces of the file list database:
//
//	file_list/{stream}/{date}/{file}          -> fileValue (JSON)
//	file_list_deleted/{org}/{file key}        -> created_at (big endian)
//	stream_stats/{stream}                     -> meta.StreamStats (JSON)
//	meta/initialised                          -> "1"
const (
	filesPrefix    = "file_list/"
	deletedPrefix  = "file_list_deleted/"
	statsPrefix    = "stream_stats/"
	initialisedKey = "meta/initialised"

	batchSize = 1000

	// pkLag keeps the stats checkpoint behind in-flight writes.
	pkLag = 5 * time.Minute
)

type fileValue struct {
	Meta      meta.FileMeta `json:"meta"`
	CreatedAt int64         `json:"created_at"`
}

// FileList is the file catalog on Pebble. There is no auto-increment id, so
// created_at in microseconds serves as the incremental stats cursor.
type FileList struct {
	e *engine
}

var _ filelist.FileList = (*FileList)(nil)

// NewFileList opens {cfg.Dir}/file_list.
func NewFileList(cfg config.PebbleConfig, logger *slog.Logger) (*FileList, error) {
	e, err := open(cfg, fileListDir, logger)
	if err != nil {
		return nil, err
	}
	return &FileList{e: e}, nil
}

func fileDBKey(file string) ([]byte, error) {
	stream, date, name, err := meta.ParseFileKeyColumns(file)
	if err != nil {
		return nil, err
	}
	return []byte(filesPrefix + stream + "/" + date + "/" + name), nil
}

func fileKeyFromDB(key []byte) string {
	return meta.FileKeyPrefix + "/" + strings.TrimPrefix(string(key), filesPrefix)
}

func deletedDBKey(file string) ([]byte, error) {
	org, err := meta.OrgOfFileKey(file)
	if err != nil {
		return nil, err
	}
	return []byte(deletedPrefix + org + "/" + file), nil
}

func (f *FileList) CreateTable(ctx context.Context) error {
	return ctx.Err()
}

func (f *FileList) CreateTableIndex(ctx context.Context) error {
	return ctx.Err()
}

func (f *FileList) SetInitialised(ctx context.Context) error {
	return f.e.write(ctx, "set_initialised", func(db *pebble.DB) error {
		return db.Set([]byte(initialisedKey), []byte("1"), f.e.syncOpt)
	})
}

func (f *FileList) GetInitialised(ctx context.Context) (bool, error) {
	var ok bool
	err := f.e.read(ctx, "get_initialised", func(db *pebble.DB) error {
		var err error
		_, ok, err = get(db, []byte(initialisedKey))
		return err
	})
	return ok, err
}

func (f *FileList) Add(ctx context.Context, file string, m meta.FileMeta) error {
	return f.addChunk(ctx, []meta.FileKey{{Key: file, Meta: m}})
}

func (f *FileList) Remove(ctx context.Context, file string) error {
	return f.BatchRemove(ctx, []string{file})
}

// BatchAdd skips keys that are already registered, so chunks never collide.
func (f *FileList) BatchAdd(ctx context.Context, files []meta.FileKey) error {
	return filelist.ForEachChunk(ctx, files, batchSize, f.addChunk)
}

func (f *FileList) addChunk(ctx context.Context, chunk []meta.FileKey) error {
	keys := make([][]byte, len(chunk))
	for i, file := range chunk {
		k, err := fileDBKey(file.Key)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	now := meta.NowMicros()

	return f.e.write(ctx, "batch_add", func(db *pebble.DB) error {
		batch := db.NewBatch()
		defer batch.Close()
		seen := make(map[string]struct{}, len(chunk))
		for i, file := range chunk {
			if _, dup := seen[string(keys[i])]; dup {
				continue
			}
			seen[string(keys[i])] = struct{}{}
			_, found, err := get(db, keys[i])
			if err != nil {
				return err
			}
			if found {
				continue
			}
			value, err := json.Marshal(fileValue{Meta: file.Meta, CreatedAt: now})
			if err != nil {
				return err
			}
			if err := batch.Set(keys[i], value, nil); err != nil {
				return err
			}
		}
		if batch.Empty() {
			return nil
		}
		return batch.Commit(f.e.syncOpt)
	})
}

func (f *FileList) BatchRemove(ctx context.Context, files []string) error {
	return filelist.ForEachChunk(ctx, files, batchSize, func(ctx context.Context, chunk []string) error {
		return f.deleteKeys(ctx, "batch_remove", chunk, fileDBKey)
	})
}

func (f *FileList) BatchAddDeleted(ctx context.Context, org string, createdAt int64, files []string) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(createdAt))
	return filelist.ForEachChunk(ctx, files, batchSize, func(ctx context.Context, chunk []string) error {
		return f.e.write(ctx, "batch_add_deleted", func(db *pebble.DB) error {
			batch := db.NewBatch()
			defer batch.Close()
			for _, file := range chunk {
				if _, _, _, err := meta.ParseFileKeyColumns(file); err != nil {
					return err
				}
				if err := batch.Set([]byte(deletedPrefix+org+"/"+file), value, nil); err != nil {
					return err
				}
			}
			return batch.Commit(f.e.syncOpt)
		})
	})
}

func (f *FileList) BatchRemoveDeleted(ctx context.Context, files []string) error {
	return filelist.ForEachChunk(ctx, files, batchSize, func(ctx context.Context, chunk []string) error {
		return f.deleteKeys(ctx, "batch_remove_deleted", chunk, deletedDBKey)
	})
}

func (f *FileList) deleteKeys(ctx context.Context, op string, files []string, toKey func(string) ([]byte, error)) error {
	keys := make([][]byte, len(files))
	for i, file := range files {
		k, err := toKey(file)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	return f.e.write(ctx, op, func(db *pebble.DB) error {
		batch := db.NewBatch()
		defer batch.Close()
		for _, k := range keys {
			if err := batch.Delete(k, nil); err != nil {
				return err
			}
		}
		return batch.Commit(f.e.syncOpt)
	})
}

func (f *FileList) Get(ctx context.Context, file string) (meta.FileMeta, error) {
	key, err := fileDBKey(file)
	if err != nil {
		return meta.FileMeta{}, err
	}
	var out meta.FileMeta
	err = f.e.read(ctx, "get", func(db *pebble.DB) error {
		raw, found, err := get(db, key)
		if err != nil {
			return err
		}
		if !found {
			return meta.ErrKeyNotExists
		}
		var v fileValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out = v.Meta
		return nil
	})
	return out, err
}

func (f *FileList) Contains(ctx context.Context, file string) (bool, error) {
	_, err := f.Get(ctx, file)
	if errors.Is(err, meta.ErrKeyNotExists) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileList) List(ctx context.Context) ([]meta.FileRecord, error) {
	return f.scanFiles(ctx, "list", prefixOptions(filesPrefix), func(meta.FileMeta) bool { return true })
}

// Query scans the date directories between timeMin and timeMax. Date keys sort
// chronologically, so the union of hour (or day) prefixes is one key range.
// A zero timeMin scans the whole stream.
func (f *FileList) Query(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	timeLevel meta.PartitionTimeLevel, timeMin, timeMax int64) ([]meta.FileRecord, error) {
	stream, err := filelist.QueryStream(org, streamType, streamName)
	if err != nil {
		return nil, err
	}
	timeMin, timeMax, err = filelist.QueryBounds(timeMin, timeMax)
	if err != nil {
		return nil, err
	}

	base := filesPrefix + stream + "/"
	lower, upper := filelist.DirectoryRange(timeLevel, timeMin, timeMax)
	opts := &pebble.IterOptions{
		LowerBound: []byte(base + lower),
		UpperBound: prefixUpper([]byte(base + upper + "/")),
	}
	return f.scanFiles(ctx, "query", opts, func(m meta.FileMeta) bool {
		return m.Overlaps(timeMin, timeMax)
	})
}

func (f *FileList) scanFiles(ctx context.Context, op string, opts *pebble.IterOptions,
	keep func(meta.FileMeta) bool) ([]meta.FileRecord, error) {
	var out []meta.FileRecord
	err := f.e.read(ctx, op, func(db *pebble.DB) error {
		return scan(db, opts, func(key, value []byte) error {
			var v fileValue
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			if keep(v.Meta) {
				out = append(out, meta.FileRecord{Key: fileKeyFromDB(key), Meta: v.Meta})
			}
			return nil
		})
	})
	return out, err
}

func (f *FileList) QueryDeleted(ctx context.Context, org string, timeMax int64, limit int64) ([]string, error) {
	if !filelist.DeletedWindow(timeMax) {
		return nil, nil
	}
	prefix := deletedPrefix + org + "/"
	var out []string
	err := f.e.read(ctx, "query_deleted", func(db *pebble.DB) error {
		return scan(db, prefixOptions(prefix), func(key, value []byte) error {
			if limit > 0 && int64(len(out)) >= limit {
				return nil
			}
			if len(value) == 8 && int64(binary.BigEndian.Uint64(value)) < timeMax {
				out = append(out, strings.TrimPrefix(string(key), prefix))
			}
			return nil
		})
	})
	return out, err
}

// GetMaxPKValue returns a created_at bound that in-flight writes stay above.
func (f *FileList) GetMaxPKValue(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Now().Add(-pkLag).UnixMicro(), nil
}

func (f *FileList) Stats(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	pkRange *meta.PKRange) ([]meta.StreamStatsEntry, error) {
	byStream := make(map[string]*meta.StreamStats)
	var order []string
	err := f.e.read(ctx, "stats", func(db *pebble.DB) error {
		return scan(db, prefixOptions(streamPrefix(filesPrefix, org, streamType, streamName)), func(key, value []byte) error {
			var v fileValue
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			if !pkRange.IsFull() && (v.CreatedAt <= pkRange.Min || v.CreatedAt > pkRange.Max) {
				return nil
			}
			stream, _, _, err := meta.ParseFileKeyColumns(fileKeyFromDB(key))
			if err != nil {
				return err
			}
			s, ok := byStream[stream]
			if !ok {
				s = &meta.StreamStats{DocTimeMin: v.Meta.MinTS}
				byStream[stream] = s
				order = append(order, stream)
			}
			s.FileNum++
			s.DocNum += v.Meta.Records
			if v.Meta.MinTS < s.DocTimeMin {
				s.DocTimeMin = v.Meta.MinTS
			}
			if v.Meta.MaxTS > s.DocTimeMax {
				s.DocTimeMax = v.Meta.MaxTS
			}
			s.StorageSize += float64(v.Meta.OriginalSize)
			s.CompressedSize += float64(v.Meta.CompressedSize)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(order)
	out := make([]meta.StreamStatsEntry, 0, len(order))
	for _, stream := range order {
		out = append(out, meta.StreamStatsEntry{StreamKey: stream, Stats: *byStream[stream]})
	}
	return out, nil
}

// streamPrefix narrows a key space to the streams StreamMatch selects.
func streamPrefix(space, org string, streamType meta.StreamType, streamName string) string {
	key, exact := filelist.StreamMatch(org, streamType, streamName)
	if exact {
		return space + key + "/"
	}
	return space + key
}

func (f *FileList) GetStreamStats(ctx context.Context, org string, streamType meta.StreamType,
	streamName string) ([]meta.StreamStatsEntry, error) {
	key, exact := filelist.StreamMatch(org, streamType, streamName)
	var out []meta.StreamStatsEntry
	err := f.e.read(ctx, "get_stream_stats", func(db *pebble.DB) error {
		if exact {
			raw, found, err := get(db, []byte(statsPrefix+key))
			if err != nil || !found {
				return err
			}
			var s meta.StreamStats
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			out = append(out, meta.StreamStatsEntry{StreamKey: key, Stats: s})
			return nil
		}
		return scan(db, prefixOptions(statsPrefix+key), func(k, value []byte) error {
			var s meta.StreamStats
			if err := json.Unmarshal(value, &s); err != nil {
				return err
			}
			out = append(out, meta.StreamStatsEntry{StreamKey: strings.TrimPrefix(string(k), statsPrefix), Stats: s})
			return nil
		})
	})
	return out, err
}

func (f *FileList) SetStreamStats(ctx context.Context, org string, deltas []meta.StreamStatsEntry) error {
	return f.updateStats(ctx, "set_stream_stats", deltas, func(s *meta.StreamStats, d meta.StreamStats) {
		s.Merge(d)
	}, true)
}

func (f *FileList) ResetStreamStats(ctx context.Context, org string, streams []string) error {
	if len(streams) == 0 {
		var entries []meta.StreamStatsEntry
		err := f.e.read(ctx, "reset_stream_stats", func(db *pebble.DB) error {
			return scan(db, prefixOptions(statsPrefix+org+"/"), func(k, _ []byte) error {
				entries = append(entries, meta.StreamStatsEntry{StreamKey: strings.TrimPrefix(string(k), statsPrefix)})
				return nil
			})
		})
		if err != nil {
			return err
		}
		return f.updateStats(ctx, "reset_stream_stats", entries, func(s *meta.StreamStats, _ meta.StreamStats) {
			*s = meta.StreamStats{}
		}, false)
	}

	entries := make([]meta.StreamStatsEntry, 0, len(streams))
	for _, stream := range streams {
		if strings.HasPrefix(stream, org+"/") {
			entries = append(entries, meta.StreamStatsEntry{StreamKey: stream})
		}
	}
	return f.updateStats(ctx, "reset_stream_stats", entries, func(s *meta.StreamStats, _ meta.StreamStats) {
		*s = meta.StreamStats{}
	}, false)
}

func (f *FileList) ResetStreamStatsMinTS(ctx context.Context, org, stream string, minTS int64) error {
	if !strings.HasPrefix(stream, org+"/") {
		return nil
	}
	return f.updateStats(ctx, "reset_stream_stats_min_ts", []meta.StreamStatsEntry{{StreamKey: stream}},
		func(s *meta.StreamStats, _ meta.StreamStats) {
			s.DocTimeMin = minTS
		}, false)
}

// updateStats applies fn to the stored rollup of every entry in one batch.
// Missing rollups start from zero when create is set and are skipped otherwise.
func (f *FileList) updateStats(ctx context.Context, op string, entries []meta.StreamStatsEntry,
	fn func(s *meta.StreamStats, delta meta.StreamStats), create bool) error {
	if len(entries) == 0 {
		return nil
	}
	return f.e.write(ctx, op, func(db *pebble.DB) error {
		batch := db.NewBatch()
		defer batch.Close()
		for _, e := range entries {
			key := []byte(statsPrefix + e.StreamKey)
			raw, found, err := get(db, key)
			if err != nil {
				return err
			}
			if !found && !create {
				continue
			}
			var s meta.StreamStats
			if found {
				if err := json.Unmarshal(raw, &s); err != nil {
					return err
				}
			}
			fn(&s, e.Stats)
			value, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err := batch.Set(key, value, nil); err != nil {
				return err
			}
		}
		return batch.Commit(f.e.syncOpt)
	})
}

func (f *FileList) Len(ctx context.Context) (int64, error) {
	var n int64
	err := f.e.read(ctx, "len", func(db *pebble.DB) error {
		return scan(db, prefixOptions(filesPrefix), func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (f *FileList) IsEmpty(ctx context.Context) (bool, error) {
	empty := true
	err := f.e.read(ctx, "is_empty", func(db *pebble.DB) error {
		iter, err := db.NewIter(prefixOptions(filesPrefix))
		if err != nil {
			return err
		}
		empty = !iter.First()
		return iter.Close()
	})
	return empty, err
}

func (f *FileList) Clear(ctx context.Context) error {
	return f.e.write(ctx, "clear", func(db *pebble.DB) error {
		batch := db.NewBatch()
		defer batch.Close()
		for _, prefix := range []string{filesPrefix, deletedPrefix, statsPrefix} {
			p := []byte(prefix)
			if err := batch.DeleteRange(p, prefixUpper(p), nil); err != nil {
				return err
			}
		}
		return batch.Commit(f.e.syncOpt)
	})
}

func (f *FileList) Close() error {
	return f.e.close()
}
