package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "segflow.log")

	logger, err := New(Config{Level: "debug", Format: "json", Outputs: []string{path}})
	require.NoError(t, err)
	logger.Debug("queue full", zap.String("stage", "ingest"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"stage":"ingest"`), string(data))
}

func TestNewFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segflow.log")

	logger, err := New(Config{Level: "chatty", Outputs: []string{path}})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
