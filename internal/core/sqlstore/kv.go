package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

var kvColumns = []string{"module", "key1", "key2"}

// deleteChunkSize bounds the IN list of one prefix delete statement.
const deleteChunkSize = 500

// KV stores /{module}/{key1}/{key2} entries in the meta table.
type KV struct {
	dialect *Dialect
	reader  *sql.DB
	writer  Writer
	logger  *slog.Logger
}

// Compile-time check that KV implements kv.Backend
var _ kv.Backend = (*KV)(nil)

// NewKV builds a KV backend. reader serves queries, writer owns every write;
// they may wrap the same pool.
func NewKV(dialect *Dialect, reader *sql.DB, writer Writer, logger *slog.Logger) *KV {
	if logger == nil {
		logger = slog.Default()
	}
	return &KV{
		dialect: dialect,
		reader:  reader,
		writer:  writer,
		logger:  logger.With("component", "kv", "backend", dialect.Name),
	}
}

func (s *KV) Name() string {
	return s.dialect.Name
}

func (s *KV) CreateTable(ctx context.Context) error {
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		for _, stmt := range s.dialect.Schema.KV {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return s.dialect.wrap("create_table", err)
			}
		}
		return nil
	})
}

func (s *KV) Stats(ctx context.Context) (kv.Stats, error) {
	var st kv.Stats
	row := s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM `+TableMeta)
	if err := row.Scan(&st.Keys, &st.Bytes); err != nil {
		return kv.Stats{}, s.dialect.wrap("stats", err)
	}
	return st, nil
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	module, key1, key2 := meta.ParseKVKey(key)
	query, args, err := s.dialect.builder().
		Select("value").From(TableMeta).
		Where(sq.Eq{"module": module}).
		Where(sq.Eq{"key1": key1}).
		Where(sq.Eq{"key2": key2}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var value []byte
	err = s.reader.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meta.ErrKeyNotExists
	}
	if err != nil {
		return nil, s.dialect.wrap("get", err)
	}
	return value, nil
}

func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	module, key1, key2 := meta.ParseKVKey(key)
	query, args, err := s.dialect.builder().
		Insert(TableMeta).
		Columns("module", "key1", "key2", "value").
		Values(module, key1, key2, value).
		Suffix(s.dialect.upsert(kvColumns, []string{"value"})).
		ToSql()
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return s.dialect.wrap("put", err)
	})
}

func (s *KV) Delete(ctx context.Context, key string, withPrefix bool) (int64, error) {
	if !withPrefix {
		module, key1, key2 := meta.ParseKVKey(key)
		query, args, err := s.dialect.builder().
			Delete(TableMeta).
			Where(sq.Eq{"module": module}).
			Where(sq.Eq{"key1": key1}).
			Where(sq.Eq{"key2": key2}).
			ToSql()
		if err != nil {
			return 0, err
		}
		var n int64
		err = s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
			res, err := db.ExecContext(ctx, query, args...)
			if err != nil {
				return s.dialect.wrap("delete", err)
			}
			n, err = res.RowsAffected()
			return err
		})
		return n, err
	}

	var n int64
	err := s.writer.Write(ctx, func(ctx context.Context, db *sql.DB) error {
		return WithTx(ctx, db, s.logger, func(tx *sql.Tx) error {
			ids, err := s.matchingIDs(ctx, tx, key)
			if err != nil {
				return err
			}
			for _, chunk := range filelist.Chunk(ids, deleteChunkSize) {
				query, args, err := s.dialect.builder().
					Delete(TableMeta).Where(sq.Eq{"id": chunk}).ToSql()
				if err != nil {
					return err
				}
				res, err := tx.ExecContext(ctx, query, args...)
				if err != nil {
					return s.dialect.wrap("delete", err)
				}
				affected, err := res.RowsAffected()
				if err != nil {
					return err
				}
				n += affected
			}
			return nil
		})
	})
	return n, err
}

func (s *KV) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	query, args, err := s.selectPrefix(prefix, "module", "key1", "key2", "value").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.wrap("list", err)
	}
	defer rows.Close()

	var out []kv.Entry
	for rows.Next() {
		var module, key1, key2 string
		var value []byte
		if err := rows.Scan(&module, &key1, &key2, &value); err != nil {
			return nil, s.dialect.wrap("list", err)
		}
		key := meta.BuildKVKey(module, key1, key2)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, kv.Entry{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, s.dialect.wrap("list", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *KV) Count(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" || prefix == "/" {
		var n int64
		err := s.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+TableMeta).Scan(&n)
		return n, s.dialect.wrap("count", err)
	}
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (s *KV) Close() error {
	err := s.writer.Close()
	if s.reader != nil {
		if rErr := s.reader.Close(); err == nil {
			err = rErr
		}
	}
	return err
}

// selectPrefix narrows the scan with the columns the prefix pins down. The
// narrowing is a superset; callers re-check the full key.
func (s *KV) selectPrefix(prefix string, columns ...string) sq.SelectBuilder {
	b := s.dialect.builder().Select(columns...).From(TableMeta)
	p := meta.ParseKVPrefix(prefix)
	for i, v := range p.Exact {
		b = b.Where(sq.Eq{kvColumns[i]: v})
	}
	if p.Partial != "" {
		b = b.Where(likeExpr(kvColumns[p.PartialIndex], p.Partial))
	}
	return b.OrderBy("module", "key1", "key2")
}

func (s *KV) matchingIDs(ctx context.Context, tx *sql.Tx, prefix string) ([]int64, error) {
	query, args, err := s.selectPrefix(prefix, "id", "module", "key1", "key2").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.wrap("delete", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		var module, key1, key2 string
		if err := rows.Scan(&id, &module, &key1, &key2); err != nil {
			return nil, s.dialect.wrap("delete", err)
		}
		if strings.HasPrefix(meta.BuildKVKey(module, key1, key2), prefix) {
			ids = append(ids, id)
		}
	}
	return ids, s.dialect.wrap("delete", rows.Err())
}
