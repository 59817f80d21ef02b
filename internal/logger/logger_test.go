package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, logger.Close())
	})

	t.Run("create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "superninja.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Info().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
		assert.Contains(t, string(data), `"service":"superninja"`)
	})

	t.Run("redacts credentials written to file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "redacted.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		logger.Info().Str("credential", "sk-ant-REDACTED").Msg("key loaded")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, string(data), "[REDACTED]")
	})

	t.Run("falls back to info on bad level", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "level.log")
		logger, err := New(Config{Level: "loud", File: logFile})
		require.NoError(t, err)

		logger.Debug().Msg("hidden")
		logger.Info().Msg("shown")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hidden")
		assert.Contains(t, string(data), "shown")
	})
}

func TestComponent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "component.log")
	logger, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)

	child := logger.Component("keypool")
	child.Info().Msg("ready")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"keypool"`)
}

func TestSetLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "reload.log")
	logger, err := New(Config{Level: "warn", File: logFile})
	require.NoError(t, err)
	child := logger.Component("task")

	child.Info().Msg("before reload")
	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, "debug", logger.Level())
	child.Debug().Msg("after reload")

	assert.Error(t, logger.SetLevel("chatty"))
	assert.Equal(t, "debug", logger.Level())
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "before reload")
	assert.Contains(t, string(data), "after reload")
	assert.Contains(t, string(data), "Log level changed")
}
