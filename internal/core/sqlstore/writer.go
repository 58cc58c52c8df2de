package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/syntrixbase/catalog/internal/core/meta"
)

// WriteFunc performs one unit of write work on the writer connection.
type WriteFunc func(ctx context.Context, db *sql.DB) error

// Writer serializes access to the write side of an engine.
type Writer interface {
	Write(ctx context.Context, fn WriteFunc) error
	Close() error
}

// DirectWriter runs writes straight on a pooled connection. Client-server
// engines take care of their own write concurrency.
type DirectWriter struct {
	db *sql.DB
}

func NewDirectWriter(db *sql.DB) *DirectWriter {
	return &DirectWriter{db: db}
}

func (w *DirectWriter) Write(ctx context.Context, fn WriteFunc) error {
	return fn(ctx, w.db)
}

func (w *DirectWriter) Close() error {
	return w.db.Close()
}

type command struct {
	ctx   context.Context
	fn    WriteFunc
	reply chan error
}

// Actor owns the only write connection of an embedded engine. Writes queue on
// a bounded mailbox and run one at a time; each caller waits on its own reply
// channel.
type Actor struct {
	db      *sql.DB
	logger  *slog.Logger
	mu      sync.RWMutex
	closed  bool
	cmds    chan command
	stopped chan struct{}
}

// NewActor starts the write loop. queue bounds the number of pending writes.
func NewActor(db *sql.DB, queue int, logger *slog.Logger) *Actor {
	if queue <= 0 {
		queue = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Actor{
		db:      db,
		logger:  logger,
		cmds:    make(chan command, queue),
		stopped: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) Write(ctx context.Context, fn WriteFunc) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return meta.ErrBackendClosed
	}
	cmd := command{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}
	a.mu.RUnlock()
	return <-cmd.reply
}

// Close drains queued writes, stops the loop and closes the connection.
func (a *Actor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.cmds)
	a.mu.Unlock()

	<-a.stopped
	return a.db.Close()
}

func (a *Actor) run() {
	defer close(a.stopped)
	for cmd := range a.cmds {
		if err := cmd.ctx.Err(); err != nil {
			cmd.reply <- err
			continue
		}
		err := cmd.fn(cmd.ctx, a.db)
		if err != nil {
			a.logger.Debug("write failed", "error", err)
		}
		cmd.reply <- err
	}
}
