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
	path := filepath.Join(t.TempDir(), "logs", "parcelflow.log")
	logger, err := New(Config{Level: "debug", Output: path, Format: "json"})
	require.NoError(t, err)
	logger.Debug("case transitioned", zap.String("case_id", "c-1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"case_id":"c-1"`), line)
	assert.True(t, strings.Contains(line, `"timestamp"`), line)
}

func TestNewRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := New(Config{Level: "warn", Output: path, Format: "json"})
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
