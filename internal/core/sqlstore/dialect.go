// Package sqlstore implements the catalog Db and FileList contracts once for
// every SQL engine. Engine packages contribute a Dialect: placeholder style,
// DDL and unique-violation classification.
package sqlstore

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

// Table names shared by every SQL engine.
const (
	TableMeta            = "meta"
	TableFileList        = "file_list"
	TableFileListDeleted = "file_list_deleted"
	TableStreamStats     = "stream_stats"
	TableFileListMeta    = "file_list_meta"
)

// Schema holds the DDL of one engine. Every statement must be idempotent.
type Schema struct {
	KV              []string
	FileList        []string
	FileListIndexes []string
}

// Dialect describes how one SQL engine differs from the others.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	Schema      Schema
	// DuplicateKeyUpdate selects MySQL style upserts instead of ON CONFLICT.
	DuplicateKeyUpdate bool
	// IntegerCast is the CAST target for 64-bit integers ("BIGINT" if empty).
	IntegerCast string
	// IsUniqueViolation classifies engine errors raised by a unique index.
	IsUniqueViolation func(err error) bool
}

func (d *Dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// Rebind rewrites '?' placeholders into the dialect's format.
func (d *Dialect) Rebind(query string) string {
	out, err := d.Placeholder.ReplacePlaceholders(query)
	if err != nil {
		return query
	}
	return out
}

// upsert returns the INSERT suffix that overwrites update columns when a row
// with the same conflict columns exists.
func (d *Dialect) upsert(conflict, update []string) string {
	sets := make([]string, len(update))
	if d.DuplicateKeyUpdate {
		for i, c := range update {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for i, c := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", "))
}

// sum renders SUM(column) as a non-null 64-bit integer.
func (d *Dialect) sum(column string) string {
	cast := d.IntegerCast
	if cast == "" {
		cast = "BIGINT"
	}
	return fmt.Sprintf("CAST(COALESCE(SUM(%s), 0) AS %s)", column, cast)
}

// wrap converts an engine error into the catalog taxonomy. Unique violations
// become meta.ErrAlreadyExists here so callers never inspect engine errors.
func (d *Dialect) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if d.IsUniqueViolation != nil && d.IsUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w: %v", d.Name, op, meta.ErrAlreadyExists, err)
	}
	return meta.WrapBackend(d.Name, op, err)
}

// likePrefix escapes s for use as a LIKE prefix with ESCAPE '!'.
func likePrefix(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s) + "%"
}

// likeExpr matches column against a literal prefix.
func likeExpr(column, prefix string) sq.Sqlizer {
	return sq.Expr(column+" LIKE ? ESCAPE '!'", likePrefix(prefix))
}
