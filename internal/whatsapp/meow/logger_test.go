package meow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerBridge(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	l.Infof("connected to %s", "server")
	l.Sub("Socket").Warnf("frame dropped: %d", 3)
	l.Debugf("noise")
	l.Errorf("boom")

	entries := logs.All()
	assert.Len(t, entries, 4)
	assert.Equal(t, "connected to server", entries[0].Message)
	assert.Equal(t, "Socket", entries[1].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}
