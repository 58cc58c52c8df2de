package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/catalog/internal/config"
)

func fileOnlyConfig(t *testing.T) config.LoggingConfig {
	cfg := config.DefaultLoggingConfig()
	cfg.Console.Enabled = false
	cfg.Dir = t.TempDir()
	return cfg
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(content)
}

func TestNewLogger_SplitsErrorLog(t *testing.T) {
	cfg := fileOnlyConfig(t)
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("file registered", "stream", "org/logs/web")
	logger.Warn("batch retried")
	logger.Error("backend unavailable")
	require.NoError(t, Shutdown())

	main := readLog(t, cfg.Dir, mainLogFile)
	assert.Contains(t, main, "file registered")
	assert.Contains(t, main, "stream=org/logs/web")
	assert.Contains(t, main, "batch retried")
	assert.Contains(t, main, "backend unavailable")

	errs := readLog(t, cfg.Dir, errorLogFile)
	assert.NotContains(t, errs, "file registered")
	assert.Contains(t, errs, "batch retried")
	assert.Contains(t, errs, "backend unavailable")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := fileOnlyConfig(t)
	cfg.File.Format = "json"
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("json entry", "key", "value")
	require.NoError(t, Shutdown())

	main := readLog(t, cfg.Dir, mainLogFile)
	assert.Contains(t, main, `"msg":"json entry"`)
	assert.Contains(t, main, `"key":"value"`)
}

func TestNewLogger_FileLevel(t *testing.T) {
	cfg := fileOnlyConfig(t)
	cfg.File.Level = "warn"
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, Shutdown())

	main := readLog(t, cfg.Dir, mainLogFile)
	assert.NotContains(t, main, "hidden")
	assert.Contains(t, main, "shown")
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := fileOnlyConfig(t)
	cfg.File.Enabled = false
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Error("dropped")

	_, err = os.Stat(filepath.Join(cfg.Dir, mainLogFile))
	assert.True(t, os.IsNotExist(err))
}

func TestNewLogger_BadDir(t *testing.T) {
	cfg := fileOnlyConfig(t)
	blocker := filepath.Join(cfg.Dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Dir = filepath.Join(blocker, "logs")

	_, err := NewLogger(cfg)
	assert.ErrorContains(t, err, "failed to create log directory")
}

func TestInitialize_SetsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	cfg := fileOnlyConfig(t)
	require.NoError(t, Initialize(cfg))
	slog.Info("global message")
	require.NoError(t, Shutdown())

	assert.Contains(t, readLog(t, cfg.Dir, mainLogFile), "global message")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
