package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Config{Level: "loud"}))
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := SetLogger(zap.New(core))
	defer SetLogger(prev)

	Debug("hidden")
	Info("visible", zap.String("executionId", "e-1"))
	Warn("warned")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "visible", entry.Message)
	require.Equal(t, "e-1", entry.ContextMap()["executionId"])
}
