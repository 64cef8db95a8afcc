package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := ParseLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: FormatJSON, Writer: &buf})
	require.NoError(t, err)

	logger.Debug("synced", "path", "test.js")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "synced", record["msg"])
	assert.Equal(t, "test.js", record["path"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: FormatText, Writer: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("synced", "path", "test.js")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=synced path=test.js")
}

func TestNew_AutoWithoutTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: FormatAuto, Writer: &buf})
	require.NoError(t, err)

	logger.Info("synced")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = New(Options{Level: "verbose"})
	assert.ErrorIs(t, err, ErrInvalidLevel)
}
