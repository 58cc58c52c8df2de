package config

import (
	services "github.com/syntrixbase/catalog/internal/services/config"
)

// ServiceConfig defines the standard configuration lifecycle methods.
// Each config section implements it so sections are processed the same way.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with sensible defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies environment variable overrides
	ApplyEnvOverrides()

	// ResolvePaths makes relative paths absolute against baseDir, the
	// directory that holds the config directory.
	ResolvePaths(baseDir string)

	// Validate returns an error if the configuration is invalid in mode.
	Validate(mode services.DeploymentMode) error
}

// ApplyServiceConfigs applies the configuration lifecycle to all sections.
// It calls ApplyDefaults, ApplyEnvOverrides, ResolvePaths, and Validate in order.
func ApplyServiceConfigs(baseDir string, mode services.DeploymentMode, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(baseDir)
		if err := cfg.Validate(mode); err != nil {
			return err
		}
	}
	return nil
}
