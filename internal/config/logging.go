package config

import (
	"fmt"
	"os"
	"path/filepath"

	services "github.com/syntrixbase/catalog/internal/services/config"
	"gopkg.in/yaml.v3"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`    // log directory path
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
}

// RotationConfig holds log rotation settings
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // number of files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`    // gzip old files
}

// OutputConfig configures one log output. Empty level and format inherit
// the top-level values.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`

	// set records that the section appeared in a config file.
	set bool
}

// UnmarshalYAML marks the output as configured, so an explicit
// "enabled: false" is not mistaken for a missing section.
func (o *OutputConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain OutputConfig
	if err := value.Decode((*plain)(o)); err != nil {
		return err
	}
	o.set = true
	return nil
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: OutputConfig{Enabled: true, Level: "info", Format: "text"},
		File:    OutputConfig{Enabled: true, Level: "info", Format: "text"},
	}
}

// ApplyDefaults fills in missing values with defaults. Compress cannot be
// told apart from an explicit false and is left alone.
func (c *LoggingConfig) ApplyDefaults() {
	defaults := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = defaults.Level
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
	if c.Dir == "" {
		c.Dir = defaults.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = defaults.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = defaults.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = defaults.Rotation.MaxAge
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

// inherit enables an output absent from every config file and fills its
// level and format from the top level.
func (o *OutputConfig) inherit(level, format string) {
	if !o.set && *o == (OutputConfig{}) {
		o.Enabled = true
	}
	if o.Level == "" {
		o.Level = level
	}
	if o.Format == "" {
		o.Format = format
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *LoggingConfig) ApplyEnvOverrides() {
	if val := os.Getenv("CATALOG_LOG_LEVEL"); val != "" {
		c.Level = val
		c.Console.Level = val
		c.File.Level = val
	}
	if val := os.Getenv("CATALOG_LOG_DIR"); val != "" {
		c.Dir = val
	}
}

// ResolvePaths resolves a relative log directory against baseDir.
func (c *LoggingConfig) ResolvePaths(baseDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) && baseDir != "" {
		c.Dir = filepath.Clean(filepath.Join(baseDir, c.Dir))
	}
}

// Validate validates the configuration
func (c *LoggingConfig) Validate(_ services.DeploymentMode) error {
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if !validFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if err := c.Console.validate("console"); err != nil {
		return err
	}
	return c.File.validate("file")
}

func (o *OutputConfig) validate(name string) error {
	if !o.Enabled {
		return nil
	}
	if o.Level != "" && !validLevels[o.Level] {
		return fmt.Errorf("invalid %s log level: %s", name, o.Level)
	}
	if o.Format != "" && !validFormats[o.Format] {
		return fmt.Errorf("invalid %s log format: %s", name, o.Format)
	}
	return nil
}
