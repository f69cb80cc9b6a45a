package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"trace", LevelDebug},
		{"info", LevelInfo},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"invalid", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

// captureJSON configures a JSON sink for the duration of the test.
func captureJSON(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(Options{Level: level, Format: "json", Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })
	return &buf
}

func TestLogger_WritesComponentAndFields(t *testing.T) {
	buf := captureJSON(t, "debug")

	logger := New("capture")
	logger.Info("frame read", "samples", 320, "device", "default")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "capture", entry["component"])
	assert.Equal(t, "frame read", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 320, entry["samples"])
	assert.Equal(t, "default", entry["device"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := captureJSON(t, "warn")

	logger := New("vad")
	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_WithLevel(t *testing.T) {
	buf := captureJSON(t, "debug")

	logger := New("test").WithLevel(LevelError)
	assert.Equal(t, "test", logger.Name())

	logger.Warn("suppressed")
	assert.Zero(t, buf.Len())
	logger.Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_With(t *testing.T) {
	buf := captureJSON(t, "info")

	New("cognition").With("turn", "abc").Info("request")
	assert.Contains(t, buf.String(), `"turn":"abc"`)
}

func TestLogger_OddKeyValues(t *testing.T) {
	buf := captureJSON(t, "info")

	New("test").Info("message", "key1", "value1", "orphan")
	assert.Contains(t, buf.String(), `"key1":"value1"`)
	assert.NotContains(t, buf.String(), "orphan")
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("nothing", "k", "v")
	assert.Equal(t, "nop", logger.Name())
}

func TestToFields(t *testing.T) {
	assert.Nil(t, toFields())

	fields := toFields("key1", "value1", "key2", 42)
	require.NotNil(t, fields)
	assert.Equal(t, "value1", fields["key1"])
	assert.Equal(t, 42, fields["key2"])

	fields = toFields(123, "value")
	assert.Empty(t, fields)

	fields = toFields("error", errors.New("boom"))
	assert.Equal(t, "boom", fields["error"])
}

func BenchmarkLogger_Info(b *testing.B) {
	Configure(Options{Format: "json", Output: &bytes.Buffer{}})
	defer Configure(Options{})
	logger := New("benchmark")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message", "iteration", i)
	}
}
