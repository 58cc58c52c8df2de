package filelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/metrics"
)

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ChunkWriter applies one chunk atomically. It must return an error wrapping
// meta.ErrAlreadyExists when the chunk collided with an existing key, after
// rolling the chunk back.
type ChunkWriter func(ctx context.Context, chunk []meta.FileKey) error

// ItemWriter registers one file, treating an existing key as success.
type ItemWriter func(ctx context.Context, file string, m meta.FileMeta) error

// BatchAddWithRetry writes files chunk by chunk. A chunk that fails with
// meta.ErrAlreadyExists is retried item by item so no file of the chunk is
// dropped. Chunks are applied in order and are not atomic with each other.
func BatchAddWithRetry(ctx context.Context, backend string, files []meta.FileKey, size int,
	writeChunk ChunkWriter, addOne ItemWriter, logger *slog.Logger) error {
	for i, chunk := range Chunk(files, size) {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		err := writeChunk(ctx, chunk)
		if err == nil {
			continue
		}
		if !errors.Is(err, meta.ErrAlreadyExists) {
			return err
		}

		metrics.BatchRetries.WithLabelValues(backend, "batch_add").Inc()
		if logger != nil {
			logger.Debug("batch chunk collided, retrying item by item",
				"backend", backend, "chunk", i, "size", len(chunk))
		}
		for _, f := range chunk {
			if err := addOne(ctx, f.Key, f.Meta); err != nil {
				return fmt.Errorf("retry add %s: %w", f.Key, err)
			}
		}
	}
	return nil
}

// ForEachChunk runs fn over consecutive chunks of items in order.
func ForEachChunk[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, chunk []T) error) error {
	for i, chunk := range Chunk(items, size) {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// BatchProcess applies a mixed batch: keys marked Deleted are removed, the rest
// are added.
func BatchProcess(ctx context.Context, fl FileList, files []meta.FileKey) error {
	var puts []meta.FileKey
	var dels []string
	for _, f := range files {
		if f.Deleted {
			dels = append(dels, f.Key)
		} else {
			puts = append(puts, f)
		}
	}
	if len(puts) > 0 {
		if err := fl.BatchAdd(ctx, puts); err != nil {
			return err
		}
	}
	if len(dels) > 0 {
		if err := fl.BatchRemove(ctx, dels); err != nil {
			return err
		}
	}
	return nil
}
