package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")
	log.Info("dropped")
	log.Warn("kept", "pack_id", "mismo34-gse")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "mismo34-gse", line["pack_id"])
}
