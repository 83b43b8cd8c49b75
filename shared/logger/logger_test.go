package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantLevel []string
	}{
		{level: "debug", wantLevel: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", wantLevel: []string{"INFO", "WARN", "ERROR"}},
		{level: "warn", wantLevel: []string{"WARN", "ERROR"}},
		{level: "error", wantLevel: []string{"ERROR"}},
		{level: "", wantLevel: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e", slog.String("job_id", "job-1"))

			entries := decodeLines(t, output)
			got := make([]string, 0, len(entries))
			for _, e := range entries {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.wantLevel, got)
			assert.Equal(t, "job-1", entries[len(entries)-1]["job_id"])
		})
	}
}

func TestNew_Console(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	logger.Info("Listening for video compression jobs", slog.String("channel", "media:compress"))

	// tint abbreviates levels; a buffer is not a terminal so no color codes
	out := output.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "Listening for video compression jobs")
	assert.Contains(t, out, "channel=media:compress")
	assert.NotContains(t, out, "\x1b[")
}

func TestNew_Source(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	logger.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_UnknownFormat(t *testing.T) {
	logger, err := New(&Config{Format: "xml", writer: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "worker.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "DEBUG", expected: slog.LevelDebug},
		{level: " info ", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "Error", expected: slog.LevelError},
		{level: "verbose", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}

func TestLogger_Derived(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", writer: output})
	require.NoError(t, err)

	logger.WithGroup("transport").Info("grouped", slog.String("mode", "queue"))
	logger.WithAttrs(slog.String("worker_id", "w-1")).Info("attrs")
	logger.With("attempt", 3).Info("with")

	entries := decodeLines(t, output)
	require.Len(t, entries, 3)

	group, ok := entries[0]["transport"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "queue", group["mode"])
	assert.Equal(t, "w-1", entries[1]["worker_id"])
	assert.Equal(t, float64(3), entries[2]["attempt"])
}
