// Package logging builds the process logger: console output plus rotating
// catalog.log and errors.log files.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/syntrixbase/catalog/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	mainLogFile  = "catalog.log"
	errorLogFile = "errors.log"
)

var (
	openFiles   []*lumberjack.Logger
	openFilesMu sync.Mutex
)

// Initialize installs the logger built from cfg as the slog default.
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("Logging initialized",
		"level", cfg.Level,
		"dir", cfg.Dir,
		"console", cfg.Console.Enabled,
		"file", cfg.File.Enabled,
	)
	return nil
}

// NewLogger creates a logger. With file output enabled, every record at the
// file level goes to catalog.log and warnings and errors also go to errors.log.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, newHandler(os.Stdout, cfg.Console.Format, ParseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		main := rotatingFile(cfg, mainLogFile)
		handlers = append(handlers, newHandler(main, cfg.File.Format, ParseLevel(cfg.File.Level)))

		errs := rotatingFile(cfg, errorLogFile)
		handlers = append(handlers,
			NewLevelFilter(newHandler(errs, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	switch len(handlers) {
	case 0:
		return slog.New(newHandler(io.Discard, "text", slog.LevelError)), nil
	case 1:
		return slog.New(handlers[0]), nil
	default:
		return slog.New(NewMultiHandler(handlers...)), nil
	}
}

// Shutdown closes every log file opened by NewLogger.
func Shutdown() error {
	openFilesMu.Lock()
	defer openFilesMu.Unlock()

	var errs []error
	for _, f := range openFiles {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", f.Filename, err))
		}
	}
	openFiles = nil
	return errors.Join(errs...)
}

func rotatingFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	openFilesMu.Lock()
	openFiles = append(openFiles, f)
	openFilesMu.Unlock()
	return f
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
