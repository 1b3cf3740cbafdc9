package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsStructuredJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrow-api", Env: "test", Level: "debug"})

	logger.Debug("listing_created", "listing_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "listing_created", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "escrow-api", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["listing_id"])
}

func TestNewBridgesStdLog(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrow-api"})
	require.Same(t, logger, slog.Default())

	log.Printf("legacy %d", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "legacy 1", line["message"])
	require.Equal(t, "INFO", line["severity"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrow-api", Level: "warn"})
	logger.Info("ignored")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestSetupWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.log")
	logger := Setup(Options{Service: "escrow-api", File: path})
	logger.Info("engine_paused")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"message":"engine_paused"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}
