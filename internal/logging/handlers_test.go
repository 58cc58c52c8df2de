package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubHandler records what it is asked to handle.
type stubHandler struct {
	level   slog.Level
	err     error
	handled []string
}

func (h *stubHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *stubHandler) Handle(_ context.Context, r slog.Record) error {
	h.handled = append(h.handled, r.Message)
	return h.err
}

func (h *stubHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *stubHandler) WithGroup(string) slog.Handler      { return h }

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestLevelFilter(t *testing.T) {
	inner := &stubHandler{level: slog.LevelDebug}
	f := NewLevelFilter(inner, slog.LevelWarn)
	ctx := context.Background()

	assert.False(t, f.Enabled(ctx, slog.LevelInfo))
	assert.True(t, f.Enabled(ctx, slog.LevelError))

	assert.NoError(t, f.Handle(ctx, record(slog.LevelInfo, "info")))
	assert.NoError(t, f.Handle(ctx, record(slog.LevelWarn, "warn")))
	assert.Equal(t, []string{"warn"}, inner.handled)
}

func TestLevelFilter_KeepsAttrsAndGroups(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewLevelFilter(slog.NewTextHandler(buf, nil), slog.LevelWarn)
	logger := slog.New(f).With("component", "purger").WithGroup("batch")

	logger.Info("skipped", "n", 1)
	logger.Warn("kept", "n", 2)

	assert.NotContains(t, buf.String(), "skipped")
	assert.Contains(t, buf.String(), "component=purger")
	assert.Contains(t, buf.String(), "batch.n=2")
}

func TestMultiHandler_FansOut(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	multi := NewMultiHandler(
		slog.NewTextHandler(a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(multi).With("backend", "pebble")

	logger.Info("only a")
	logger.Warn("both")

	assert.Contains(t, a.String(), "only a")
	assert.Contains(t, a.String(), "backend=pebble")
	assert.NotContains(t, b.String(), "only a")
	assert.Contains(t, b.String(), "both")

	assert.False(t, multi.Enabled(context.Background(), slog.LevelDebug))
}

func TestMultiHandler_ContinuesAfterError(t *testing.T) {
	failing := &stubHandler{err: errors.New("disk full")}
	healthy := &stubHandler{}
	multi := NewMultiHandler(failing, healthy)

	err := multi.Handle(context.Background(), record(slog.LevelInfo, "msg"))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, []string{"msg"}, healthy.handled)
}
