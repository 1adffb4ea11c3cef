package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := Init(Options{Stderr: &buf})
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	Init(Options{Verbose: true, Stderr: &buf})
	slog.Debug("details", "tx_hash", "0xabc")
	assert.Contains(t, buf.String(), "tx_hash=0xabc")
}

func TestInitJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	Init(Options{JSONFormat: true, Stderr: &buf}).Warn("transaction unresolved", "handle", "h1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "transaction unresolved", entry["msg"])
	assert.Equal(t, "h1", entry["handle"])
}
