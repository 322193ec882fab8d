package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/logger"
)

func TestNewJSONOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithAttr(slog.String("service", "flagkit")),
	)

	log.Info("flag evaluated", "flag_key", "dark_mode")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "flag evaluated", record["msg"])
	assert.Equal(t, "dark_mode", record["flag_key"])
	assert.Equal(t, "flagkit", record["service"])
}

func TestNewTextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithFormat(logger.FormatText),
		logger.WithLevel(slog.LevelDebug),
	)

	log.Debug("probe allowed")
	assert.Contains(t, buf.String(), "probe allowed")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))

	log.Info("dropped")
	log.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestInvalidFormatPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		logger.New(logger.WithFormat("xml"))
	})
}
