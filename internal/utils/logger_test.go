package utils

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", true, &buf)

	logger.Debug("cycle", slog.String("policy", "cpu"))

	assert.Contains(t, buf.String(), `"msg":"cycle"`)
	assert.Contains(t, buf.String(), `"policy":"cpu"`)
}

func TestNewLoggerWithWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", false, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestParseRFC3339(t *testing.T) {
	ts, err := ParseRFC3339("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	_, err = ParseRFC3339("")
	assert.Error(t, err)
	_, err = ParseRFC3339("yesterday")
	assert.Error(t, err)
}

func TestWindowDefaultsLookback(t *testing.T) {
	end := time.Unix(1_700_000_000, 0)
	start, gotEnd := Window(end, 0)
	assert.Equal(t, end, gotEnd)
	assert.Equal(t, 5*time.Minute, gotEnd.Sub(start))
}
