package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("lendingd", "test", WithWriter(&buf))
	defer closer.Close()

	logger.Info("market listed", slog.String("market", "ETH"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "market listed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "ETH", line["market"])
	require.Contains(t, line, "timestamp")
}

func TestSetupLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("lendingd", "", WithWriter(&buf), WithLevel(ParseLevel("warn")))
	defer closer.Close()

	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendingd.log")
	var buf bytes.Buffer
	logger, closer := Setup("lendingd", "", WithWriter(&buf), WithFile(FileConfig{Path: path, MaxSizeMB: 1}))
	logger.Info("pool deployed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "pool deployed")
	require.Equal(t, buf.String(), string(data))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("admin_token", "secret").Value.String())
	require.Equal(t, "ETH", MaskField("market", "ETH").Value.String())
	require.Equal(t, "", MaskField("admin_token", "").Value.String())
	require.Equal(t, RedactedValue, MaskValue("x"))
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
}
