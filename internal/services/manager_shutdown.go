package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Shutdown stops servers and workers in parallel, waits for them within ctx
// and closes storage last.
func (m *Manager) Shutdown(ctx context.Context) error {
	var g errgroup.Group

	for i, srv := range m.servers {
		srv, name := srv, m.serverNames[i]
		g.Go(func() error {
			m.logger.Info("Stopping server", "server", name)
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	for i, w := range m.workers {
		w, name := w, m.workerNames[i]
		g.Go(func() error {
			if err := w.Stop(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	errs := []error{g.Wait()}

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timeout waiting for servers: %w", ctx.Err()))
	}

	if m.storageFactory != nil {
		if err := m.storageFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("Shutdown finished with errors", "error", err)
	} else {
		m.logger.Info("Shutdown complete")
	}
	return err
}
