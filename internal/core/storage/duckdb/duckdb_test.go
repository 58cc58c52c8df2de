package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"github.com/syntrixbase/catalog/internal/core/storage/storagetest"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&duckdb.Error{
		Type: duckdb.ErrorTypeConstraint,
		Msg:  `Constraint Error: Duplicate key "stream: a" violates unique constraint.`,
	}))
	assert.False(t, isUniqueViolation(&duckdb.Error{Type: duckdb.ErrorTypeConstraint, Msg: "NOT NULL constraint failed"}))
	assert.False(t, isUniqueViolation(&duckdb.Error{Type: duckdb.ErrorTypeIO, Msg: "duplicate key"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate key")))
}

func TestFileList(t *testing.T) {
	storagetest.RunFileListSuite(t, func(t *testing.T) filelist.FileList {
		cfg := config.DuckDBConfig{Path: filepath.Join(t.TempDir(), "file_list.duckdb")}
		fl, err := NewFileList(context.Background(), cfg, 16, nil)
		require.NoError(t, err)
		return fl
	})
}
