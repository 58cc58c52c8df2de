package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/syntrixbase/catalog/internal/core/filecache"
)

// Start launches the servers and workers built by Init. They run until
// Shutdown or until bgCtx is cancelled.
func (m *Manager) Start(bgCtx context.Context) error {
	ctx, cancel := context.WithCancel(bgCtx)
	m.cancel = cancel

	for i, srv := range m.servers {
		m.wg.Add(1)
		go func(s *http.Server, name string) {
			defer m.wg.Done()
			m.logger.Info("Server listening", "server", name, "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("Server failed", "server", name, "error", err)
			}
		}(srv, m.serverNames[i])
	}

	if m.cache != nil {
		if err := filecache.Invalidate(ctx, m.storageFactory.Coordinator(), filecache.EvictPrefix, m.cache); err != nil {
			return fmt.Errorf("failed to start file cache invalidation: %w", err)
		}
	}

	for i, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", m.workerNames[i], err)
		}
	}
	return nil
}
