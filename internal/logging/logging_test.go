package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndAccessors(t *testing.T) {
	Init()
	assert.NotNil(t, Structured())
	assert.NotNil(t, HumanReadable())
	assert.NotNil(t, ForService("test"))
}

func TestForServiceInitializesLazily(t *testing.T) {
	structuredLogger = nil
	logger := ForService("lazy")
	assert.NotNil(t, logger)
	assert.NotNil(t, Structured())
}

func TestReplaceLevelNames(t *testing.T) {
	t.Parallel()

	attr := replaceLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	assert.Equal(t, "TRACE", attr.Value.String())

	attr = replaceLevelNames(nil, slog.Any(slog.LevelKey, LevelFatal))
	assert.Equal(t, "FATAL", attr.Value.String())

	attr = replaceLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelWarn))
	assert.Equal(t, "WARN", attr.Value.String())

	// Non-level attrs pass through untouched.
	attr = replaceLevelNames(nil, slog.String("msg", "hello"))
	assert.Equal(t, "hello", attr.Value.String())
}

func TestNewFileLogger(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "service.log")
	logger, closeFn, err := NewFileLogger(path, "pipeline", slog.LevelDebug)
	require.NoError(t, err)

	logger.Info("job started", "job_id", "abc")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "job started", entry["msg"])
	assert.Equal(t, "pipeline", entry["service"])
	assert.Equal(t, "abc", entry["job_id"])
	assert.Equal(t, "INFO", entry["level"])
}
