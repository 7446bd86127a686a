package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestInitialize(t *testing.T) {
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	for _, jsonOutput := range []bool{true, false} {
		require.NoError(t, Initialize(jsonOutput))
		require.NotNil(t, Logger)
		assert.True(t, Logger.Desugar().Core().Enabled(zapcore.InfoLevel))
		assert.False(t, Logger.Desugar().Core().Enabled(zapcore.DebugLevel))
	}
}

func TestConfigureJSON(t *testing.T) {
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	var buf bytes.Buffer
	require.NoError(t, Configure(Options{JSON: true, Level: zapcore.DebugLevel, Output: zapcore.AddSync(&buf)}))

	Named("store").Debugw("Saved changes", FieldInserted, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "store", entry["logger"])
	assert.Equal(t, "Saved changes", entry["msg"])
	assert.Equal(t, float64(2), entry[FieldInserted])
}

func TestConfigureLevel(t *testing.T) {
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: VerbosityToLevel(0), Output: zapcore.AddSync(&buf)}))

	Logger.Infow("hidden")
	Logger.Warnw("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithComponent(context.Background(), "graph")
	ctx = WithOperation(ctx, "commit")

	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{FieldComponent, "graph", FieldOperation, "commit"}, fields)

	assert.Empty(t, FieldsFromContext(context.Background()))
}

func TestLoggerFromContext(t *testing.T) {
	base := zaptest.NewLogger(t).Sugar()

	assert.Same(t, base, LoggerFromContext(context.Background(), base))
	assert.NotSame(t, base, LoggerFromContext(WithComponent(context.Background(), "store"), base))
}
