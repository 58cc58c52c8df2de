// Package metrics registers the catalog's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// File list
	FileListOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_filelist_ops_total",
		Help: "The total number of file list operations",
	}, []string{"backend", "op", "result"})

	FileListLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "catalog_filelist_op_duration_seconds",
		Help: "The latency of file list operations",
	}, []string{"backend", "op"})

	BatchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_filelist_batch_retries_total",
		Help: "The total number of batch chunks rolled back and retried item by item",
	}, []string{"backend", "op"})

	// KV
	KVOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_kv_ops_total",
		Help: "The total number of key-value store operations",
	}, []string{"backend", "op", "result"})

	WatchEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_kv_watch_events_total",
		Help: "The total number of watch events delivered",
	}, []string{"backend", "kind"})

	// Workers
	StatsRollups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_stats_rollups_total",
		Help: "The total number of stream stats rollups",
	}, []string{"mode", "result"})

	TombstonesPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_tombstones_purged_total",
		Help: "The total number of deleted-file tombstones purged",
	})

	// File cache
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_filecache_evictions_total",
		Help: "The total number of file cache evictions",
	})

	CacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_filecache_bytes",
		Help: "The current size of the file cache in bytes",
	})
)

func init() {
	prometheus.MustRegister(FileListOps)
	prometheus.MustRegister(FileListLatency)
	prometheus.MustRegister(BatchRetries)
	prometheus.MustRegister(KVOps)
	prometheus.MustRegister(WatchEvents)
	prometheus.MustRegister(StatsRollups)
	prometheus.MustRegister(TombstonesPurged)
	prometheus.MustRegister(CacheEvictions)
	prometheus.MustRegister(CacheBytes)
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
