// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/consentscope/internal/config"
)

// bufferSyncer adapts a bytes.Buffer to zapcore.WriteSyncer.
func bufferSyncer(buf *bytes.Buffer) zapcore.WriteSyncer {
	return zapcore.AddSync(buf)
}

func TestNewLogger(t *testing.T) {
	t.Run("console format colorizes the level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}, bufferSyncer(&buf))

		logger.Info("This is a test message.")
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "This is a test message.")
		assert.Contains(t, out, ansi["green"])
		assert.Contains(t, out, ansiReset)
		assert.Contains(t, out, "TestService.")
	})

	t.Run("json format emits structured fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		}, bufferSyncer(&buf))

		logger.Warn("This is a JSON message.", zap.String("key", "value"))
		require.NoError(t, logger.Sync())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "chatty", Format: "json"}, bufferSyncer(&buf))
		logger.Debug("hidden")
		logger.Info("shown")
		require.NoError(t, logger.Sync())
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("writes to a rotating log file if configured", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "consentscope.log")
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: path,
			MaxSize: 1,
		}, bufferSyncer(&buf))

		logger.Error("This should go to the file.")
		_ = logger.Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, bufferSyncer(&first))
	l1 := GetLogger()
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, bufferSyncer(&second))
	l2 := GetLogger()

	assert.Same(t, l1, l2)
	l2.Info("test")
	Sync()
	assert.Contains(t, first.String(), "First")
	assert.Empty(t, second.String())
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// Sync on an uninitialized global is a no-op.
	Sync()
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "consentscope"}, bufferSyncer(&buf))

	log := WithAnalysis(Component(base, ComponentOrchestrator), "a1", "https://user:pw@example.de/shop?sid=secret#top", "quick")
	log.Info("Analysis started.")
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "consentscope.orchestrator", entry["logger"])
	assert.Equal(t, "a1", entry["analysis_id"])
	assert.Equal(t, "https://example.de/shop", entry["url"])
	assert.Equal(t, "quick", entry["mode"])

	assert.NotPanics(t, func() { Component(nil, ComponentStore).Info("dropped") })
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://example.de/?utm_source=x": "https://example.de/",
		"https://example.de/a#frag":        "https://example.de/a",
		"not a url":                        "not a url",
		"":                                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactURL(in), "input %q", in)
	}
}
