package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashexec.log")

	logger, err := BuildLogger(LogOptions{OutputPaths: []string{path}})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("flash loan executed", zap.String("strategy", "arbitrage"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"flash loan executed"`)
	assert.Contains(t, out, `"strategy":"arbitrage"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"timestamp":`)
	assert.NotContains(t, out, "hidden")
}

func TestBuildLoggerDebugConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	logger, err := BuildLogger(LogOptions{Debug: true, Console: true, OutputPaths: []string{path}})
	require.NoError(t, err)
	logger.Debug("simulating")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\tDEBUG\t")
	assert.Contains(t, string(data), "simulating")
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.Same(t, GetLogger(), GetLogger())
}
