package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	storage "github.com/syntrixbase/catalog/internal/core/storage/config"
	services "github.com/syntrixbase/catalog/internal/services/config"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Deployment services.DeploymentConfig `yaml:"deployment"`
	Logging    LoggingConfig             `yaml:"logging"`
	Storage    storage.Config            `yaml:"storage"`
	Workers    WorkersConfig             `yaml:"workers"`
	Metrics    MetricsConfig             `yaml:"metrics"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		Deployment: services.DefaultDeploymentConfig(),
		Logging:    DefaultLoggingConfig(),
		Storage:    storage.DefaultConfig(),
		Workers:    DefaultWorkersConfig(),
		Metrics:    MetricsConfig{Addr: ":9090"},
	}
}

// LoadConfig loads configuration from configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate. Relative paths resolve
// against the parent of configDir.
func LoadConfig(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	// Deployment first: every other section validates against its mode.
	cfg.Deployment.ApplyDefaults()
	cfg.Deployment.ApplyEnvOverrides()
	if err := cfg.Deployment.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	baseDir := filepath.Dir(filepath.Clean(configDir))
	if err := ApplyServiceConfigs(baseDir, cfg.Deployment.Mode,
		&cfg.Logging,
		&cfg.Storage,
		&cfg.Workers,
		&cfg.Metrics,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// loadFile merges filename into cfg. A missing file is skipped.
func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	slog.Debug("Loaded config file", "file", filename)
	return nil
}
