package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New("dework", "test", Options{Output: &buf, Level: "debug"})
	Component(logger, "node").Debug("committed", MaskField("secret", "hunter2"), MaskField("reason", "ok"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "committed", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "dework", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "node", line["component"])
	require.Equal(t, RedactedValue, line["secret"])
	require.Equal(t, "ok", line["reason"])
	require.Contains(t, line, "timestamp")
}

func TestLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New("dework", "", Options{Output: &buf, Level: "warn"})
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestFileSinkReceivesCopy(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "dework.log")
	logger := New("dework", "", Options{Output: &buf, File: path, MaxSizeMB: 1})
	logger.Info("rotated")
	require.FileExists(t, path)
	require.NotZero(t, buf.Len())
}

func TestHandlerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New("dework", "", Options{Output: &buf})
	logger.Info("configured", "apiKey", "k-123", "jwtSecret", "", "tenant", "0xabc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["apiKey"])
	require.Equal(t, "", line["jwtSecret"])
	require.Equal(t, "0xabc", line["tenant"])
}

func TestIsSensitive(t *testing.T) {
	require.True(t, IsSensitive("X-Nodit-Signature"))
	require.True(t, IsSensitive("store_dsn"))
	require.False(t, IsSensitive("position"))
}
