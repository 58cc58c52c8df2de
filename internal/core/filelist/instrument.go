package filelist

import (
	"context"
	"time"

	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/metrics"
)

// Instrumented records prometheus metrics around a FileList.
type Instrumented struct {
	FileList
	backend string
}

// Instrument wraps fl so every write and query is counted and timed.
func Instrument(fl FileList, backend string) *Instrumented {
	return &Instrumented{FileList: fl, backend: backend}
}

// Unwrap returns the wrapped backend.
func (i *Instrumented) Unwrap() FileList {
	return i.FileList
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	metrics.FileListOps.WithLabelValues(i.backend, op, metrics.Result(err)).Inc()
	metrics.FileListLatency.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *Instrumented) Add(ctx context.Context, file string, m meta.FileMeta) (err error) {
	defer func(start time.Time) { i.observe("add", start, err) }(time.Now())
	return i.FileList.Add(ctx, file, m)
}

func (i *Instrumented) Remove(ctx context.Context, file string) (err error) {
	defer func(start time.Time) { i.observe("remove", start, err) }(time.Now())
	return i.FileList.Remove(ctx, file)
}

func (i *Instrumented) BatchAdd(ctx context.Context, files []meta.FileKey) (err error) {
	defer func(start time.Time) { i.observe("batch_add", start, err) }(time.Now())
	return i.FileList.BatchAdd(ctx, files)
}

func (i *Instrumented) BatchRemove(ctx context.Context, files []string) (err error) {
	defer func(start time.Time) { i.observe("batch_remove", start, err) }(time.Now())
	return i.FileList.BatchRemove(ctx, files)
}

func (i *Instrumented) BatchAddDeleted(ctx context.Context, org string, createdAt int64, files []string) (err error) {
	defer func(start time.Time) { i.observe("batch_add_deleted", start, err) }(time.Now())
	return i.FileList.BatchAddDeleted(ctx, org, createdAt, files)
}

func (i *Instrumented) BatchRemoveDeleted(ctx context.Context, files []string) (err error) {
	defer func(start time.Time) { i.observe("batch_remove_deleted", start, err) }(time.Now())
	return i.FileList.BatchRemoveDeleted(ctx, files)
}

func (i *Instrumented) Query(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	timeLevel meta.PartitionTimeLevel, timeMin, timeMax int64) (out []meta.FileRecord, err error) {
	defer func(start time.Time) { i.observe("query", start, err) }(time.Now())
	return i.FileList.Query(ctx, org, streamType, streamName, timeLevel, timeMin, timeMax)
}

func (i *Instrumented) QueryDeleted(ctx context.Context, org string, timeMax int64, limit int64) (out []string, err error) {
	defer func(start time.Time) { i.observe("query_deleted", start, err) }(time.Now())
	return i.FileList.QueryDeleted(ctx, org, timeMax, limit)
}

func (i *Instrumented) Stats(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	pkRange *meta.PKRange) (out []meta.StreamStatsEntry, err error) {
	defer func(start time.Time) { i.observe("stats", start, err) }(time.Now())
	return i.FileList.Stats(ctx, org, streamType, streamName, pkRange)
}

func (i *Instrumented) SetStreamStats(ctx context.Context, org string, deltas []meta.StreamStatsEntry) (err error) {
	defer func(start time.Time) { i.observe("set_stream_stats", start, err) }(time.Now())
	return i.FileList.SetStreamStats(ctx, org, deltas)
}
