package log

import (
	"testing"

	krlog "github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestKratosLoggerImplementation(t *testing.T) {
	var _ krlog.Logger = Default()
}

func TestKratosLogLevels(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)

	levels := []krlog.Level{
		krlog.LevelDebug,
		krlog.LevelInfo,
		krlog.LevelWarn,
		krlog.LevelError,
	}
	for _, level := range levels {
		assert.NoError(t, l.Log(level, "tenant", "a"))
	}

	entries := logs.All()
	require.Len(t, entries, len(levels))
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "a", entries[1].ContextMap()["tenant"])
}

func TestKratosLogUnpairedKeyvals(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)

	assert.NoError(t, l.Log(krlog.LevelInfo, "k1", "v1", "k2"))
	assert.NoError(t, l.Log(krlog.LevelInfo))

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, zapcore.WarnLevel, e.Level)
	}
}
