// Package services wires the storage factory, the background workers and
// the metrics endpoint of one catalog node.
package services

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/syntrixbase/catalog/internal/config"
	"github.com/syntrixbase/catalog/internal/core/filecache"
	"github.com/syntrixbase/catalog/internal/core/stats"
	"github.com/syntrixbase/catalog/internal/core/storage"
	"github.com/syntrixbase/catalog/internal/core/tombstone"
)

type Options struct {
	RunStatsAggregator bool
	RunTombstonePurger bool
	RunFileCache       bool
}

// DefaultOptions runs every worker.
func DefaultOptions() Options {
	return Options{RunStatsAggregator: true, RunTombstonePurger: true, RunFileCache: true}
}

// worker is a background loop with an explicit lifecycle.
type worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	storageFactory storage.StorageFactory
	aggregator     *stats.Aggregator
	purger         *tombstone.Purger
	cache          *filecache.Cache

	workers     []worker
	workerNames []string
	servers     []*http.Server
	serverNames []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With("component", "manager"),
	}
}

func (m *Manager) Storage() storage.StorageFactory {
	return m.storageFactory
}

func (m *Manager) Aggregator() *stats.Aggregator {
	return m.aggregator
}

func (m *Manager) Purger() *tombstone.Purger {
	return m.purger
}

func (m *Manager) Cache() *filecache.Cache {
	return m.cache
}
