package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPackageHelpersWriteToSetLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	Infow("connecting to database", "driver", "sqlite")
	Warnw("unable to connect", "driver", "sqlite")
	Errorf("Application error: %v", "boom")
	Named("store").Infow("opened")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "sqlite", entries[0].ContextMap()["driver"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "Application error: boom", entries[2].Message)
	assert.Equal(t, "store", entries[3].ContextMap()["component"])
}
