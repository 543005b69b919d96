package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Gopher0727/LobbyChat/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("stdout with json format", func(t *testing.T) {
		logger, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("hello")
	})

	t.Run("file output creates missing directories", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "app.log")

		logger, err := NewLogger(&config.LoggingConfig{
			Level:    "debug",
			Format:   "json",
			Output:   "file",
			FilePath: logFile,
		})
		require.NoError(t, err)

		logger.WithContext(WithTraceID(context.Background(), "trace-abc")).
			Info("group dropped", zap.String("group_id", "g-1"))
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "group dropped")
		assert.Contains(t, string(content), "trace-abc")
		assert.Contains(t, string(content), "g-1")
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWithContext_NoTraceID(t *testing.T) {
	l := NewNop()
	assert.Same(t, l, l.WithContext(context.Background()))
}
