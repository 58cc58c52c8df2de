package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	services "github.com/syntrixbase/catalog/internal/services/config"
	"gopkg.in/yaml.v3"
)

func TestLoggingConfigYAMLParsing(t *testing.T) {
	yamlData := `
level: "debug"
format: "json"
dir: "/var/log/catalog"
rotation:
  max_size: 50
console:
  enabled: false
file:
  level: "warn"
`
	var cfg LoggingConfig
	assert.NoError(t, yaml.Unmarshal([]byte(yamlData), &cfg))
	cfg.ApplyDefaults()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/var/log/catalog", cfg.Dir)
	assert.Equal(t, 50, cfg.Rotation.MaxSize)
	assert.Equal(t, 10, cfg.Rotation.MaxBackups)
	// An explicit enabled: false is kept because the section is not empty.
	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, "json", cfg.Console.Format)
	// A section with only a level is not re-enabled.
	assert.False(t, cfg.File.Enabled)
	assert.Equal(t, "warn", cfg.File.Level)
}

func TestLoggingConfigDisabledOutputKeepsDisabled(t *testing.T) {
	var cfg LoggingConfig
	assert.NoError(t, yaml.Unmarshal([]byte("console:\n  enabled: false\n"), &cfg))
	cfg.ApplyDefaults()

	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, "info", cfg.Console.Level)
	assert.Equal(t, "text", cfg.Console.Format)
	assert.True(t, cfg.File.Enabled)
	assert.NoError(t, cfg.Validate(services.ModeLocal))
}

func TestLoggingConfigApplyDefaults(t *testing.T) {
	cfg := &LoggingConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.Equal(t, 30, cfg.Rotation.MaxAge)
	assert.False(t, cfg.Rotation.Compress)
	assert.Equal(t, OutputConfig{Enabled: true, Level: "info", Format: "text"}, cfg.Console)
	assert.Equal(t, OutputConfig{Enabled: true, Level: "info", Format: "text"}, cfg.File)
}

func TestLoggingConfigApplyEnvOverrides(t *testing.T) {
	t.Setenv("CATALOG_LOG_LEVEL", "debug")
	t.Setenv("CATALOG_LOG_DIR", "/tmp/catalog-logs")

	cfg := DefaultLoggingConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "debug", cfg.Console.Level)
	assert.Equal(t, "debug", cfg.File.Level)
	assert.Equal(t, "/tmp/catalog-logs", cfg.Dir)
}

func TestLoggingConfigResolvePaths(t *testing.T) {
	tests := []struct {
		name     string
		baseDir  string
		dir      string
		expected string
	}{
		{"relative", "/app", "logs", "/app/logs"},
		{"relative with parent", "/app", "../shared/logs", "/shared/logs"},
		{"absolute", "/app", "/var/log/catalog", "/var/log/catalog"},
		{"empty base", "", "logs", "logs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &LoggingConfig{Dir: tt.dir}
			cfg.ResolvePaths(tt.baseDir)
			assert.Equal(t, tt.expected, cfg.Dir)
		})
	}
}

func TestLoggingConfigValidate(t *testing.T) {
	valid := func() LoggingConfig {
		cfg := DefaultLoggingConfig()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*LoggingConfig)
		errMsg string
	}{
		{"valid", func(*LoggingConfig) {}, ""},
		{"level", func(c *LoggingConfig) { c.Level = "trace" }, "invalid log level"},
		{"format", func(c *LoggingConfig) { c.Format = "xml" }, "invalid log format"},
		{"dir", func(c *LoggingConfig) { c.Dir = "" }, "log directory cannot be empty"},
		{"console level", func(c *LoggingConfig) { c.Console.Level = "loud" }, "invalid console log level"},
		{"file format", func(c *LoggingConfig) { c.File.Format = "xml" }, "invalid file log format"},
		{"disabled output skipped", func(c *LoggingConfig) {
			c.File = OutputConfig{Enabled: false, Format: "xml"}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate(services.ModeLocal)
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.errMsg)
			}
		})
	}
}
