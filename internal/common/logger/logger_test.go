package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestForNotification_AddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForNotification(NewZapAdapter(zap.New(core)), "n-1", "t-1", "EMAIL", "corr-1")

	log.Info("delivered", map[string]interface{}{"attempts": 2})

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "n-1", ctx["notificationId"])
	assert.Equal(t, "t-1", ctx["tenantId"])
	assert.Equal(t, "EMAIL", ctx["channel"])
	assert.Equal(t, "corr-1", ctx["correlationId"])
	assert.EqualValues(t, 2, ctx["attempts"])
}

func TestForNotification_OmitsEmptyCorrelation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForNotification(NewZapAdapter(zap.New(core)), "n-1", "t-1", "SMS", "")

	log.WithError(errors.New("boom")).Error("failed", nil)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	_, ok := ctx["correlationId"]
	assert.False(t, ok)
	assert.Equal(t, "boom", ctx["error"])
}
