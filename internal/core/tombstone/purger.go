// Package tombstone purges deleted-file tombstones once they are older than
// the retention window, handing each batch to a FileRemover first.
package tombstone

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/metrics"
)

// FileRemover deletes the physical objects of purged files.
type FileRemover interface {
	RemoveFiles(ctx context.Context, files []string) error
}

// LogRemover only logs the files it is given.
type LogRemover struct {
	Logger *slog.Logger
}

func (r LogRemover) RemoveFiles(ctx context.Context, files []string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("files released", "count", len(files))
	return nil
}

// Config contains configuration for the purger
type Config struct {
	// Interval between purge cycles
	Interval time.Duration `yaml:"interval"`
	// Retention is how long a tombstone is kept before it is purged
	Retention time.Duration `yaml:"retention"`
	// BatchSize is the number of tombstones fetched per batch
	BatchSize int `yaml:"batch_size"`
	// MaxBatchesPerCycle limits the number of batches per org per cycle
	MaxBatchesPerCycle int `yaml:"max_batches_per_cycle"`
	// Orgs to purge. When empty, every org with stream stats is purged.
	Orgs []string `yaml:"orgs"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Minute,
		Retention:          time.Hour,
		BatchSize:          1000,
		MaxBatchesPerCycle: 10,
	}
}

// Purger handles background cleanup of tombstones
type Purger struct {
	fileList filelist.FileList
	remover  FileRemover
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastRunTime time.Time
}

// NewPurger creates a new purger. A nil remover means LogRemover.
func NewPurger(fileList filelist.FileList, remover FileRemover, config Config, logger *slog.Logger) *Purger {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxBatchesPerCycle <= 0 {
		config.MaxBatchesPerCycle = defaults.MaxBatchesPerCycle
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tombstone-purger")
	if remover == nil {
		remover = LogRemover{Logger: logger}
	}

	return &Purger{
		fileList: fileList,
		remover:  remover,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Start starts the purger
func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runLoop(workerCtx)

	p.logger.Info("tombstone purger started",
		"interval", p.config.Interval,
		"retention", p.config.Retention,
		"batchSize", p.config.BatchSize)
	return nil
}

// Stop stops the purger
func (p *Purger) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.running = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("tombstone purger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Purger) runLoop(ctx context.Context) {
	defer p.wg.Done()

	// Run immediately on start
	p.RunOnce(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce purges expired tombstones of every org and returns how many were
// removed. Errors are logged; the org is retried next cycle.
func (p *Purger) RunOnce(ctx context.Context) int {
	p.mu.Lock()
	p.lastRunTime = p.now()
	p.mu.Unlock()

	orgs, err := p.orgs(ctx)
	if err != nil {
		p.logger.Error("failed to list orgs", "error", err)
		return 0
	}

	total := 0
	for _, org := range orgs {
		if ctx.Err() != nil {
			return total
		}
		total += p.purgeOrg(ctx, org)
	}
	return total
}

func (p *Purger) orgs(ctx context.Context) ([]string, error) {
	if len(p.config.Orgs) > 0 {
		return p.config.Orgs, nil
	}
	entries, err := p.fileList.GetStreamStats(ctx, "", "", "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var orgs []string
	for _, e := range entries {
		org, _, _, err := meta.ParseStreamKey(e.StreamKey)
		if err != nil {
			p.logger.Warn("skipping stream with invalid key", "stream", e.StreamKey, "error", err)
			continue
		}
		if !seen[org] {
			seen[org] = true
			orgs = append(orgs, org)
		}
	}
	sort.Strings(orgs)
	return orgs, nil
}

func (p *Purger) purgeOrg(ctx context.Context, org string) int {
	logger := p.logger.With("org", org)
	cutoff := p.now().Add(-p.config.Retention).UnixMicro()

	purged := 0
	for batch := 0; batch < p.config.MaxBatchesPerCycle; batch++ {
		if ctx.Err() != nil {
			break
		}

		files, err := p.fileList.QueryDeleted(ctx, org, cutoff, int64(p.config.BatchSize))
		if err != nil {
			logger.Error("failed to query tombstones", "error", err, "batch", batch)
			break
		}
		if len(files) == 0 {
			break
		}

		if err := p.purge(ctx, files); err != nil {
			logger.Error("failed to purge tombstones", "error", err, "batch", batch)
			break
		}
		purged += len(files)

		if len(files) < p.config.BatchSize {
			break
		}
	}

	if purged > 0 {
		logger.Info("purged tombstones", "count", purged)
	}
	return purged
}

// purge removes the objects before the tombstones, so a failed removal
// leaves the tombstones in place for the next cycle.
func (p *Purger) purge(ctx context.Context, files []string) error {
	if err := p.remover.RemoveFiles(ctx, files); err != nil {
		return fmt.Errorf("remove files: %w", err)
	}
	if err := p.fileList.BatchRemoveDeleted(ctx, files); err != nil {
		return fmt.Errorf("remove tombstones: %w", err)
	}
	metrics.TombstonesPurged.Add(float64(len(files)))
	return nil
}

// LastRunTime returns the time of the last purge cycle
func (p *Purger) LastRunTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRunTime
}

// IsRunning returns whether the purger is running
func (p *Purger) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
