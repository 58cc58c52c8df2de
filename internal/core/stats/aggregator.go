// Package stats keeps the per-stream rollups of the file list current. The
// aggregator folds files registered since its last checkpoint into the rollups
// on a fixed interval, and can recompute one org from scratch.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/metrics"
)

// OffsetKey holds the primary-key value up to which the rollups are current.
const OffsetKey = "/meta/stats/file_list_offset"

// LeaseKey is the coordinator key whose holder may move the checkpoint.
const LeaseKey = "/lease/stats/aggregator"

// ErrBusy is returned by Rebuild while another aggregator holds the lease.
var ErrBusy = errors.New("stats aggregator lease held by another node")

const (
	modeIncremental = "incremental"
	modeRebuild     = "rebuild"

	resultSkipped = "skipped"
)

// Config contains configuration for the aggregator
type Config struct {
	// Interval between incremental rollups
	Interval time.Duration `yaml:"interval"`
	// LeaseTTL bounds how long one rollup may run before another node can
	// take over. It must exceed the slowest rollup.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{Interval: time.Minute, LeaseTTL: 5 * time.Minute}
}

// Aggregator rolls file list rows up into stream stats.
type Aggregator struct {
	fileList filelist.FileList
	db       kv.Db
	config   Config
	logger   *slog.Logger

	// lease serializes rollups across every aggregator sharing the checkpoint.
	lease  kv.Leaser
	holder string

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastRunTime time.Time

	// runMu keeps one rollup or rebuild in flight at a time.
	runMu sync.Mutex
}

// NewAggregator creates an aggregator that stores its checkpoint in db. When
// db grants leases, rollups also lease LeaseKey from it.
func NewAggregator(fileList filelist.FileList, db kv.Db, config Config, logger *slog.Logger) *Aggregator {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		fileList: fileList,
		db:       db,
		config:   config,
		logger:   logger.With("component", "stats-aggregator"),
		holder:   uuid.NewString(),
	}
	if l, ok := db.(kv.Leaser); ok {
		a.lease = l
	}
	return a
}

// UseLease moves the lease to the cluster coordinator. node names this
// process in the stored lease; the holder stays unique per aggregator.
func (a *Aggregator) UseLease(lease kv.Leaser, node string) {
	a.lease = lease
	if node != "" {
		a.holder = node + "/" + uuid.NewString()
	}
}

// Holder returns the name this aggregator leases under.
func (a *Aggregator) Holder() string {
	return a.holder
}

// Start runs a rollup immediately and then every Interval until Stop.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	workerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.runLoop(workerCtx)

	a.logger.Info("stats aggregator started", "interval", a.config.Interval)
	return nil
}

// Stop cancels the loop and waits for the current rollup to finish.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.running = false
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("stats aggregator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) runLoop(ctx context.Context) {
	defer a.wg.Done()

	a.tick(ctx)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Aggregator) tick(ctx context.Context) {
	n, err := a.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("stats rollup failed", "error", err)
		}
		return
	}
	if n > 0 {
		a.logger.Debug("stats rollup applied", "streams", n)
	}
}

// RunOnce folds the files registered since the checkpoint into the rollups
// and advances the checkpoint. It returns the number of streams updated, or 0
// when another aggregator holds the lease.
func (a *Aggregator) RunOnce(ctx context.Context) (n int, err error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.mu.Lock()
	a.lastRunTime = time.Now()
	a.mu.Unlock()

	held, err := a.acquire(ctx)
	if err != nil {
		metrics.StatsRollups.WithLabelValues(modeIncremental, metrics.Result(err)).Inc()
		return 0, err
	}
	if !held {
		metrics.StatsRollups.WithLabelValues(modeIncremental, resultSkipped).Inc()
		a.logger.Debug("stats rollup skipped, lease held elsewhere")
		return 0, nil
	}
	defer a.release(ctx)

	defer func() {
		metrics.StatsRollups.WithLabelValues(modeIncremental, metrics.Result(err)).Inc()
	}()

	prev, err := a.Offset(ctx)
	if err != nil {
		return 0, err
	}
	cur, err := a.fileList.GetMaxPKValue(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read max pk value: %w", err)
	}
	if cur <= prev {
		return 0, nil
	}

	entries, err := a.fileList.Stats(ctx, "", "", "", &meta.PKRange{Min: prev, Max: cur})
	if err != nil {
		return 0, fmt.Errorf("failed to compute stats in (%d, %d]: %w", prev, cur, err)
	}
	if n, err = a.apply(ctx, entries); err != nil {
		return 0, err
	}

	if err := a.db.Put(ctx, OffsetKey, []byte(strconv.FormatInt(cur, 10)), false); err != nil {
		return n, fmt.Errorf("failed to store stats offset: %w", err)
	}
	return n, nil
}

// Rebuild zeroes the rollups of org and recomputes them from the files up to
// the checkpoint. Files past it are left to the next incremental rollup.
func (a *Aggregator) Rebuild(ctx context.Context, org string) (err error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	defer func() {
		metrics.StatsRollups.WithLabelValues(modeRebuild, metrics.Result(err)).Inc()
	}()

	held, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	if !held {
		return ErrBusy
	}
	defer a.release(ctx)

	prev, err := a.Offset(ctx)
	if err != nil {
		return err
	}
	if err := a.fileList.ResetStreamStats(ctx, org, nil); err != nil {
		return fmt.Errorf("failed to reset stream stats of %s: %w", org, err)
	}
	if prev == 0 {
		a.logger.Info("stream stats reset, nothing checkpointed yet", "org", org)
		return nil
	}
	entries, err := a.fileList.Stats(ctx, org, "", "", &meta.PKRange{Min: 0, Max: prev})
	if err != nil {
		return fmt.Errorf("failed to compute stats of %s: %w", org, err)
	}
	n, err := a.apply(ctx, entries)
	if err != nil {
		return err
	}
	a.logger.Info("stream stats rebuilt", "org", org, "streams", n, "offset", prev)
	return nil
}

func (a *Aggregator) acquire(ctx context.Context) (bool, error) {
	if a.lease == nil {
		return true, nil
	}
	held, err := a.lease.AcquireLease(ctx, LeaseKey, a.holder, a.config.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire stats lease: %w", err)
	}
	return held, nil
}

func (a *Aggregator) release(ctx context.Context) {
	if a.lease == nil {
		return
	}
	if err := a.lease.ReleaseLease(context.WithoutCancel(ctx), LeaseKey, a.holder); err != nil {
		a.logger.Warn("failed to release stats lease", "error", err)
	}
}

func (a *Aggregator) apply(ctx context.Context, entries []meta.StreamStatsEntry) (int, error) {
	byOrg, err := filelist.GroupByOrg(entries)
	if err != nil {
		return 0, err
	}
	n := 0
	for org, deltas := range byOrg {
		if err := a.fileList.SetStreamStats(ctx, org, deltas); err != nil {
			return n, fmt.Errorf("failed to set stream stats of %s: %w", org, err)
		}
		n += len(deltas)
	}
	return n, nil
}

// Offset returns the stored checkpoint, or 0 before the first rollup.
func (a *Aggregator) Offset(ctx context.Context) (int64, error) {
	raw, err := a.db.Get(ctx, OffsetKey)
	if errors.Is(err, meta.ErrKeyNotExists) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stats offset: %w", err)
	}
	offset, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stats offset %q: %w", raw, err)
	}
	return offset, nil
}

// LastRunTime returns the time of the last incremental rollup
func (a *Aggregator) LastRunTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastRunTime
}

// IsRunning returns whether the loop is running
func (a *Aggregator) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}
