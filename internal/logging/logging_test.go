package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "json", "warn")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("cache write failed", "bucket", "dynamic-v3")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache write failed", line["msg"])
	assert.Equal(t, "dynamic-v3", line["bucket"])
}

func TestNewPretty(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "pretty", "debug")
	require.NoError(t, err)

	logger.Debug("install", "asset", "/index.html")
	assert.Contains(t, buf.String(), "install")
	assert.Contains(t, buf.String(), "/index.html")
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", "info")
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, "json", "loud")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = ParseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, lvl)
}
