package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/config"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(config.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLogger_WritesJSONFile(t *testing.T) {
	// GIVEN
	path := filepath.Join(t.TempDir(), "runner.log")
	logger, err := NewLogger(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "uiprobe",
		LogFile:     path,
		MaxSize:     1,
	})
	require.NoError(t, err)

	// WHEN
	logger.Info("session acquired", zap.String("session_id", "abc"))
	_ = logger.Sync()

	// THEN
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"session acquired"`)
	assert.Contains(t, string(data), `"session_id":"abc"`)
	assert.Contains(t, string(data), `"logger":"uiprobe"`)
}

func TestGetLogger_FallsBackToNop(t *testing.T) {
	globalLogger.Store(nil)
	assert.NotNil(t, GetLogger())

	logger := zap.NewExample()
	SetLogger(logger)
	t.Cleanup(func() { globalLogger.Store(nil) })
	assert.Same(t, logger, GetLogger())
}
