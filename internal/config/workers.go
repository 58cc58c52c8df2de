package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syntrixbase/catalog/internal/core/filecache"
	"github.com/syntrixbase/catalog/internal/core/stats"
	"github.com/syntrixbase/catalog/internal/core/tombstone"
	services "github.com/syntrixbase/catalog/internal/services/config"
)

// WorkersConfig holds the background workers of a node.
type WorkersConfig struct {
	Stats     stats.Config     `yaml:"stats"`
	Tombstone tombstone.Config `yaml:"tombstone"`
	FileCache filecache.Config `yaml:"file_cache"`
}

func DefaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		Stats:     stats.DefaultConfig(),
		Tombstone: tombstone.DefaultConfig(),
		FileCache: filecache.DefaultConfig(),
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *WorkersConfig) ApplyDefaults() {
	defaults := DefaultWorkersConfig()
	if c.Stats.Interval == 0 {
		c.Stats.Interval = defaults.Stats.Interval
	}
	if c.Stats.LeaseTTL == 0 {
		c.Stats.LeaseTTL = defaults.Stats.LeaseTTL
	}
	if c.Tombstone.Interval == 0 {
		c.Tombstone.Interval = defaults.Tombstone.Interval
	}
	if c.Tombstone.Retention == 0 {
		c.Tombstone.Retention = defaults.Tombstone.Retention
	}
	if c.Tombstone.BatchSize == 0 {
		c.Tombstone.BatchSize = defaults.Tombstone.BatchSize
	}
	if c.Tombstone.MaxBatchesPerCycle == 0 {
		c.Tombstone.MaxBatchesPerCycle = defaults.Tombstone.MaxBatchesPerCycle
	}
	if c.FileCache.MaxBytes == 0 {
		c.FileCache.MaxBytes = defaults.FileCache.MaxBytes
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *WorkersConfig) ApplyEnvOverrides() {
	if val := os.Getenv("CATALOG_TOMBSTONE_RETENTION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Tombstone.Retention = d
		}
	}
	if val := os.Getenv("CATALOG_TOMBSTONE_ORGS"); val != "" {
		c.Tombstone.Orgs = strings.Split(val, ",")
	}
}

// ResolvePaths resolves the file cache spill directory against baseDir.
func (c *WorkersConfig) ResolvePaths(baseDir string) {
	if c.FileCache.Dir != "" && !filepath.IsAbs(c.FileCache.Dir) && baseDir != "" {
		c.FileCache.Dir = filepath.Join(baseDir, c.FileCache.Dir)
	}
}

func (c *WorkersConfig) Validate(_ services.DeploymentMode) error {
	if c.Stats.Interval < 0 {
		return fmt.Errorf("workers.stats.interval must not be negative")
	}
	if c.Stats.LeaseTTL < 0 {
		return fmt.Errorf("workers.stats.lease_ttl must not be negative")
	}
	if c.Tombstone.Retention < 0 {
		return fmt.Errorf("workers.tombstone.retention must not be negative")
	}
	if c.FileCache.MaxBytes < 0 {
		return fmt.Errorf("workers.file_cache.max_bytes must not be negative")
	}
	for _, org := range c.Tombstone.Orgs {
		if org == "" || strings.Contains(org, "/") {
			return fmt.Errorf("workers.tombstone.orgs: invalid org %q", org)
		}
	}
	return nil
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

func (c *MetricsConfig) ApplyDefaults() {}

func (c *MetricsConfig) ApplyEnvOverrides() {
	if val, ok := os.LookupEnv("CATALOG_METRICS_ADDR"); ok {
		c.Addr = val
	}
}

func (c *MetricsConfig) ResolvePaths(_ string) {}

func (c *MetricsConfig) Validate(_ services.DeploymentMode) error {
	if c.Addr != "" && !strings.Contains(c.Addr, ":") {
		return fmt.Errorf("metrics.addr must be host:port, got %q", c.Addr)
	}
	return nil
}
