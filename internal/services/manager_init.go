package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/catalog/internal/core/filecache"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/stats"
	"github.com/syntrixbase/catalog/internal/core/storage"
	"github.com/syntrixbase/catalog/internal/core/tombstone"
)

// Dependency injection for testing
var newStorageFactory = storage.NewFactory

// Init opens storage and builds the configured workers. Nothing runs until
// Start.
func (m *Manager) Init(ctx context.Context) error {
	factory, err := newStorageFactory(ctx, m.cfg.Storage, m.cfg.Deployment.Mode, m.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	m.storageFactory = factory

	if m.opts.RunFileCache {
		if m.cache, err = filecache.New(m.cfg.Workers.FileCache, m.logger); err != nil {
			if closeErr := factory.Close(); closeErr != nil {
				m.logger.Error("Failed to close storage", "error", closeErr)
			}
			m.storageFactory = nil
			return fmt.Errorf("failed to initialize file cache: %w", err)
		}
	}

	if m.opts.RunStatsAggregator {
		m.aggregator = stats.NewAggregator(factory.FileList(), factory.Meta(), m.cfg.Workers.Stats, m.logger)
		// Nodes sharing a coordinator take turns moving the checkpoint.
		if lease, ok := factory.Coordinator().(kv.Leaser); ok {
			m.aggregator.UseLease(lease, m.cfg.Deployment.NodeID)
		}
		m.addWorker("stats aggregator", m.aggregator)
	}

	if m.opts.RunTombstonePurger {
		var remover tombstone.FileRemover
		if m.cache != nil {
			remover = filecache.NewAnnouncer(factory.Coordinator(), filecache.EvictPrefix, m.logger)
		}
		m.purger = tombstone.NewPurger(factory.FileList(), remover, m.cfg.Workers.Tombstone, m.logger)
		m.addWorker("tombstone purger", m.purger)
	}

	if addr := m.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		m.servers = append(m.servers, &http.Server{Addr: addr, Handler: mux})
		m.serverNames = append(m.serverNames, "Metrics Server")
	}

	m.logger.Info("Catalog initialized",
		"mode", m.cfg.Deployment.Mode,
		"node", m.cfg.Deployment.NodeID,
		"workers", m.workerNames)
	return nil
}

func (m *Manager) addWorker(name string, w worker) {
	m.workers = append(m.workers, w)
	m.workerNames = append(m.workerNames, name)
}
