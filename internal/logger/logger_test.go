package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("无效级别回退到 info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "mailq.log")
		log, err := NewLogger(Config{Level: "debug", File: file, Stderr: true})
		require.NoError(t, err)
		log.Info("hello")
		_ = log.Sync()
		assert.FileExists(t, file)
	})
}

func TestTimed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	stop := Timed(log, "lookup_sender", zap.String("sender", "a@b.com"))
	stop()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lookup_sender", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "a@b.com", fields["sender"])
	assert.Contains(t, fields, "elapsed")
}

func TestTimed_DisabledAtInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Timed(zap.New(core), "lookup_sender")()
	assert.Equal(t, 0, logs.Len())

	Timed(nil, "noop")()
}
