package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

var (
	fileColumns    = []string{"org", "stream", "date", "file", "min_ts", "max_ts", "records", "original_size", "compressed_size", "created_at"}
	metaColumns    = []string{"min_ts", "max_ts", "records", "original_size", "compressed_size"}
	deletedColumns = []string{"org", "stream", "date", "file", "created_at"}
	statsColumns   = []string{"stream", "file_num", "min_ts", "max_ts", "records", "original_size", "compressed_size"}
)

const initialisedKey = "initialised"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FileList implements filelist.FileList on the file_list, file_list_deleted
// and stream_stats tables.
type FileList struct {
	dialect *Dialect
	reader  *sql.DB
	writer  Writer
	logger  *slog.Logger
}

// Compile-time check that FileList implements filelist.FileList
var _ filelist.FileList = (*FileList)(nil)

// NewFileList builds a SQL file list. reader serves queries, writer owns every
// write; they may wrap the same pool.
func NewFileList(dialect *Dialect, reader *sql.DB, writer Writer, logger *slog.Logger) *FileList {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileList{
		dialect: dialect,
		reader:  reader,
		writer:  writer,
		logger:  logger.With("component", "filelist", "backend", dialect.Name),
	}
}

func (s *FileList) CreateTable(ctx context.Context) error {
	return s.execAll(ctx, "create_table", s.dialect.Schema.FileList)
}

func (s *FileList) CreateTableIndex(ctx context.Context) error {
	return s.execAll(ctx, "create_index", s.dialect.Schema.FileListIndexes)
}

func (s *FileList) execAll(ctx context.Context, op string, stmts []string) error {
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return s.dialect.wrap(op, err)
			}
		}
		return nil
	})
}

func (s *FileList) SetInitialised(ctx context.Context) error {
	query, args, err := s.dialect.builder().
		Insert(TableFileListMeta).
		Columns("name", "value").
		Values(initialisedKey, 1).
		Suffix(s.dialect.upsert([]string{"name"}, []string{"value"})).
		ToSql()
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return s.dialect.wrap("set_initialised", err)
	})
}

func (s *FileList) GetInitialised(ctx context.Context) (bool, error) {
	query, args, err := s.dialect.builder().
		Select("value").From(TableFileListMeta).
		Where(sq.Eq{"name": initialisedKey}).
		ToSql()
	if err != nil {
		return false, err
	}
	var v int64
	err = s.reader.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.dialect.wrap("get_initialised", err)
	}
	return v > 0, nil
}

func (s *FileList) Add(ctx context.Context, file string, m meta.FileMeta) error {
	err := s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		return s.insertFiles(ctx, db, []meta.FileKey{{Key: file, Meta: m}})
	})
	if errors.Is(err, meta.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (s *FileList) Remove(ctx context.Context, file string) error {
	return s.BatchRemove(ctx, []string{file})
}

func (s *FileList) BatchAdd(ctx context.Context, files []meta.FileKey) error {
	writeChunk := func(ctx context.Context, chunk []meta.FileKey) error {
		return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
			return WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
				return s.insertFiles(ctx, tx, chunk)
			})
		})
	}
	return filelist.BatchAddWithRetry(ctx, s.dialect.Name, files, filelist.SQLChunkSize, writeChunk, s.Add, s.logger)
}

func (s *FileList) BatchRemove(ctx context.Context, files []string) error {
	return s.deleteFiles(ctx, TableFileList, files)
}

func (s *FileList) BatchAddDeleted(ctx context.Context, org string, createdAt int64, files []string) error {
	keys := make([]meta.FileKey, len(files))
	for i, f := range files {
		keys[i] = meta.FileKey{Key: f}
	}
	writeChunk := func(ctx context.Context, chunk []meta.FileKey) error {
		return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
			return WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
				return s.insertDeleted(ctx, tx, org, createdAt, chunk)
			})
		})
	}
	addOne := func(ctx context.Context, file string, _ meta.FileMeta) error {
		err := s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
			return s.insertDeleted(ctx, db, org, createdAt, []meta.FileKey{{Key: file}})
		})
		if errors.Is(err, meta.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	return filelist.BatchAddWithRetry(ctx, s.dialect.Name, keys, filelist.SQLChunkSize, writeChunk, addOne, s.logger)
}

func (s *FileList) BatchRemoveDeleted(ctx context.Context, files []string) error {
	return s.deleteFiles(ctx, TableFileListDeleted, files)
}

func (s *FileList) Get(ctx context.Context, file string) (meta.FileMeta, error) {
	where, err := fileWhere(file)
	if err != nil {
		return meta.FileMeta{}, err
	}
	query, args, err := s.dialect.builder().
		Select(metaColumns...).From(TableFileList).Where(where).ToSql()
	if err != nil {
		return meta.FileMeta{}, err
	}

	var m meta.FileMeta
	err = s.reader.QueryRowContext(ctx, query, args...).
		Scan(&m.MinTS, &m.MaxTS, &m.Records, &m.OriginalSize, &m.CompressedSize)
	if errors.Is(err, sql.ErrNoRows) {
		return meta.FileMeta{}, meta.ErrKeyNotExists
	}
	if err != nil {
		return meta.FileMeta{}, s.dialect.wrap("get", err)
	}
	return m, nil
}

func (s *FileList) Contains(ctx context.Context, file string) (bool, error) {
	_, err := s.Get(ctx, file)
	if errors.Is(err, meta.ErrKeyNotExists) {
		return false, nil
	}
	return err == nil, err
}

func (s *FileList) List(ctx context.Context) ([]meta.FileRecord, error) {
	b := s.dialect.builder().
		Select(append([]string{"stream", "date", "file"}, metaColumns...)...).
		From(TableFileList).
		OrderBy("id")
	return s.queryRecords(ctx, "list", b)
}

func (s *FileList) Query(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	_ meta.PartitionTimeLevel, timeMin, timeMax int64) ([]meta.FileRecord, error) {
	stream, err := filelist.QueryStream(org, streamType, streamName)
	if err != nil {
		return nil, err
	}
	start, end, err := filelist.QueryBounds(timeMin, timeMax)
	if err != nil {
		return nil, err
	}
	b := s.dialect.builder().
		Select(append([]string{"stream", "date", "file"}, metaColumns...)...).
		From(TableFileList).
		Where(sq.Eq{"stream": stream}).
		Where(sq.GtOrEq{"max_ts": start}).
		Where(sq.LtOrEq{"min_ts": end}).
		OrderBy("date", "file")
	return s.queryRecords(ctx, "query", b)
}

func (s *FileList) QueryDeleted(ctx context.Context, org string, timeMax int64, limit int64) ([]string, error) {
	if !filelist.DeletedWindow(timeMax) {
		return nil, nil
	}
	b := s.dialect.builder().
		Select("stream", "date", "file").
		From(TableFileListDeleted).
		Where(sq.Eq{"org": org}).
		Where(sq.Lt{"created_at": timeMax}).
		OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.wrap("query_deleted", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var stream, date, file string
		if err := rows.Scan(&stream, &date, &file); err != nil {
			return nil, s.dialect.wrap("query_deleted", err)
		}
		out = append(out, meta.BuildFileKey(stream, date, file))
	}
	return out, s.dialect.wrap("query_deleted", rows.Err())
}

func (s *FileList) GetMaxPKValue(ctx context.Context) (int64, error) {
	var id int64
	err := s.reader.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM `+TableFileList).Scan(&id)
	if err != nil {
		return 0, s.dialect.wrap("max_pk", err)
	}
	return id, nil
}

func (s *FileList) Stats(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	pkRange *meta.PKRange) ([]meta.StreamStatsEntry, error) {
	b := s.dialect.builder().
		Select(
			"stream",
			"COUNT(*)",
			s.dialect.sum("records"),
			"COALESCE(MIN(min_ts), 0)",
			"COALESCE(MAX(max_ts), 0)",
			s.dialect.sum("original_size"),
			s.dialect.sum("compressed_size"),
		).
		From(TableFileList)
	b = streamFilter(b, org, streamType, streamName)
	if !pkRange.IsFull() {
		b = b.Where(sq.Gt{"id": pkRange.Min}).Where(sq.LtOrEq{"id": pkRange.Max})
	}
	return s.queryStats(ctx, "stats", b.GroupBy("stream").OrderBy("stream"))
}

func (s *FileList) GetStreamStats(ctx context.Context, org string, streamType meta.StreamType,
	streamName string) ([]meta.StreamStatsEntry, error) {
	b := s.dialect.builder().
		Select("stream", "file_num", "records", "min_ts", "max_ts", "original_size", "compressed_size").
		From(TableStreamStats)
	b = streamFilter(b, org, streamType, streamName)
	return s.queryStats(ctx, "get_stream_stats", b.OrderBy("stream"))
}

// SetStreamStats creates missing rows in one transaction, then merges every
// delta in a second one. Counters clamp at zero; time bounds only widen.
func (s *FileList) SetStreamStats(ctx context.Context, org string, deltas []meta.StreamStatsEntry) error {
	if len(deltas) == 0 {
		return nil
	}
	if err := s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		return s.ensureStatsRows(ctx, db, org, deltas)
	}); err != nil {
		return err
	}

	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		return WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
			for _, e := range deltas {
				query, args, err := mergeStats(s.dialect.builder().Update(TableStreamStats), e.Stats).
					Where(sq.Eq{"stream": e.StreamKey}).
					ToSql()
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return s.dialect.wrap("set_stream_stats", err)
				}
			}
			return nil
		})
	})
}

func (s *FileList) ResetStreamStats(ctx context.Context, org string, streams []string) error {
	b := s.dialect.builder().Update(TableStreamStats).
		Set("file_num", 0).
		Set("records", 0).
		Set("min_ts", 0).
		Set("max_ts", 0).
		Set("original_size", 0).
		Set("compressed_size", 0).
		Where(sq.Eq{"org": org})
	if len(streams) > 0 {
		b = b.Where(sq.Eq{"stream": streams})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return s.dialect.wrap("reset_stream_stats", err)
	})
}

func (s *FileList) ResetStreamStatsMinTS(ctx context.Context, org, stream string, minTS int64) error {
	query, args, err := s.dialect.builder().Update(TableStreamStats).
		Set("min_ts", minTS).
		Where(sq.Eq{"org": org}).
		Where(sq.Eq{"stream": stream}).
		ToSql()
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return s.dialect.wrap("reset_stream_stats_min_ts", err)
	})
}

func (s *FileList) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+TableFileList).Scan(&n)
	if err != nil {
		return 0, s.dialect.wrap("len", err)
	}
	return n, nil
}

func (s *FileList) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Len(ctx)
	return n == 0, err
}

func (s *FileList) Clear(ctx context.Context) error {
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		return WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
			for _, table := range []string{TableFileList, TableFileListDeleted, TableStreamStats} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					return s.dialect.wrap("clear", err)
				}
			}
			return nil
		})
	})
}

func (s *FileList) Close() error {
	err := s.writer.Close()
	if s.reader != nil {
		if rErr := s.reader.Close(); err == nil {
			err = rErr
		}
	}
	return err
}

func (s *FileList) insertFiles(ctx context.Context, ex execer, files []meta.FileKey) error {
	now := meta.NowMicros()
	b := s.dialect.builder().Insert(TableFileList).Columns(fileColumns...)
	for _, f := range files {
		stream, date, file, err := meta.ParseFileKeyColumns(f.Key)
		if err != nil {
			return err
		}
		org, _, _, err := meta.ParseStreamKey(stream)
		if err != nil {
			return err
		}
		m := f.Meta
		b = b.Values(org, stream, date, file, m.MinTS, m.MaxTS, m.Records, m.OriginalSize, m.CompressedSize, now)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return s.dialect.wrap("insert", err)
}

func (s *FileList) insertDeleted(ctx context.Context, ex execer, org string, createdAt int64, files []meta.FileKey) error {
	b := s.dialect.builder().Insert(TableFileListDeleted).Columns(deletedColumns...)
	for _, f := range files {
		stream, date, file, err := meta.ParseFileKeyColumns(f.Key)
		if err != nil {
			return err
		}
		b = b.Values(org, stream, date, file, createdAt)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return s.dialect.wrap("insert_deleted", err)
}

func (s *FileList) deleteFiles(ctx context.Context, table string, files []string) error {
	return filelist.ForEachChunk(ctx, files, filelist.SQLChunkSize, func(ctx context.Context, chunk []string) error {
		or := make(sq.Or, 0, len(chunk))
		for _, f := range chunk {
			where, err := fileWhere(f)
			if err != nil {
				return err
			}
			or = append(or, where)
		}
		query, args, err := s.dialect.builder().Delete(table).Where(or).ToSql()
		if err != nil {
			return err
		}
		return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
			return WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, query, args...)
				return s.dialect.wrap("delete", err)
			})
		})
	})
}

func (s *FileList) ensureStatsRows(ctx context.Context, db *sql.DB, org string, deltas []meta.StreamStatsEntry) error {
	query, args, err := s.dialect.builder().
		Select("stream").From(TableStreamStats).Where(sq.Eq{"org": org}).ToSql()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.dialect.wrap("set_stream_stats", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var stream string
		if err := rows.Scan(&stream); err != nil {
			rows.Close()
			return s.dialect.wrap("set_stream_stats", err)
		}
		existing[stream] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s.dialect.wrap("set_stream_stats", err)
	}

	var missing []string
	for _, e := range deltas {
		if _, ok := existing[e.StreamKey]; !ok {
			missing = append(missing, e.StreamKey)
			existing[e.StreamKey] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	err = WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
		return s.insertStatsRows(ctx, tx, org, missing)
	})
	if !errors.Is(err, meta.ErrAlreadyExists) {
		return err
	}
	// Another writer created some of the rows; insert the rest one by one.
	for _, stream := range missing {
		if err := s.insertStatsRows(ctx, db, org, []string{stream}); err != nil && !errors.Is(err, meta.ErrAlreadyExists) {
			return err
		}
	}
	return nil
}

func (s *FileList) insertStatsRows(ctx context.Context, ex execer, org string, streams []string) error {
	b := s.dialect.builder().Insert(TableStreamStats).
		Columns("org", "stream", "file_num", "records", "min_ts", "max_ts", "original_size", "compressed_size")
	for _, stream := range streams {
		b = b.Values(org, stream, 0, 0, 0, 0, 0, 0)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return s.dialect.wrap("set_stream_stats", err)
}

func (s *FileList) queryRecords(ctx context.Context, op string, b sq.SelectBuilder) ([]meta.FileRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.wrap(op, err)
	}
	defer rows.Close()

	var out []meta.FileRecord
	for rows.Next() {
		var stream, date, file string
		var m meta.FileMeta
		if err := rows.Scan(&stream, &date, &file, &m.MinTS, &m.MaxTS, &m.Records, &m.OriginalSize, &m.CompressedSize); err != nil {
			return nil, s.dialect.wrap(op, err)
		}
		out = append(out, meta.FileRecord{Key: meta.BuildFileKey(stream, date, file), Meta: m})
	}
	return out, s.dialect.wrap(op, rows.Err())
}

// queryStats scans (stream, files, records, min, max, size, compressed) rows.
func (s *FileList) queryStats(ctx context.Context, op string, b sq.SelectBuilder) ([]meta.StreamStatsEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.wrap(op, err)
	}
	defer rows.Close()

	var out []meta.StreamStatsEntry
	for rows.Next() {
		var e meta.StreamStatsEntry
		var original, compressed int64
		if err := rows.Scan(&e.StreamKey, &e.Stats.FileNum, &e.Stats.DocNum, &e.Stats.DocTimeMin,
			&e.Stats.DocTimeMax, &original, &compressed); err != nil {
			return nil, s.dialect.wrap(op, err)
		}
		e.Stats.StorageSize = float64(original)
		e.Stats.CompressedSize = float64(compressed)
		out = append(out, e)
	}
	return out, s.dialect.wrap(op, rows.Err())
}

func fileWhere(key string) (sq.And, error) {
	stream, date, file, err := meta.ParseFileKeyColumns(key)
	if err != nil {
		return nil, err
	}
	return sq.And{sq.Eq{"stream": stream}, sq.Eq{"date": date}, sq.Eq{"file": file}}, nil
}

func streamFilter(b sq.SelectBuilder, org string, streamType meta.StreamType, streamName string) sq.SelectBuilder {
	key, exact := filelist.StreamMatch(org, streamType, streamName)
	switch {
	case exact:
		return b.Where(sq.Eq{"stream": key})
	case key == "":
		return b
	case streamType == "":
		return b.Where(sq.Eq{"org": org})
	default:
		return b.Where(likeExpr("stream", key))
	}
}

// mergeStats sets every stream_stats column from its current value and delta.
func mergeStats(b sq.UpdateBuilder, d meta.StreamStats) sq.UpdateBuilder {
	b = b.
		Set("file_num", clampedAdd("file_num", d.FileNum)).
		Set("records", clampedAdd("records", d.DocNum)).
		Set("original_size", clampedAdd("original_size", int64(d.StorageSize))).
		Set("compressed_size", clampedAdd("compressed_size", int64(d.CompressedSize)))
	if d.DocTimeMin > 0 {
		b = b.Set("min_ts", sq.Expr("CASE WHEN min_ts = 0 OR min_ts > ? THEN ? ELSE min_ts END", d.DocTimeMin, d.DocTimeMin))
	}
	if d.DocTimeMax > 0 {
		b = b.Set("max_ts", sq.Expr("CASE WHEN max_ts < ? THEN ? ELSE max_ts END", d.DocTimeMax, d.DocTimeMax))
	}
	return b
}

func clampedAdd(column string, delta int64) sq.Sqlizer {
	return sq.Expr(fmt.Sprintf("CASE WHEN %s + ? < 0 THEN 0 ELSE %s + ? END", column, column), delta, delta)
}
