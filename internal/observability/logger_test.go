package observability

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/internal/config"
)

func resetLogger() {
	globalLogger = atomic.Pointer[zap.Logger]{}
	once = sync.Once{}
}

func TestGetLoggerBeforeInit(t *testing.T) {
	resetLogger()

	logger := GetLogger()
	require.NotNil(t, logger, "GetLogger must fall back to a usable logger")
}

func TestInitializeLoggerOnce(t *testing.T) {
	resetLogger()

	InitializeLogger(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "test"})
	first := GetLogger()
	require.NotNil(t, first)

	// Second initialization must be a no-op.
	InitializeLogger(config.LoggerConfig{Level: "error", Format: "console", ServiceName: "other"})
	assert.Same(t, first, GetLogger())
}

func TestInitializeLoggerBadLevelFallsBack(t *testing.T) {
	resetLogger()

	InitializeLogger(config.LoggerConfig{Level: "not-a-level", Format: "json", ServiceName: "test"})
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel), "invalid level should fall back to info")
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}
