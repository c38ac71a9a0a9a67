package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("loud")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger(" DEBUG ")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestForOrderAddsField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForOrder(zap.New(core), "ORD_1", zap.String("step", "claim")).Info("claimed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "ORD_1", fields["order_id"])
	assert.Equal(t, "claim", fields["step"])
}

func TestPrintfAdapterLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	NewPrintfAdapter(logger, true).Printf("broker %s unreachable", "kafka:9092")
	NewPrintfAdapter(logger, false).Printf("fetched %d messages", 3)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Equal(t, "broker kafka:9092 unreachable", logs.All()[0].Message)
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}
