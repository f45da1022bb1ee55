package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesToDirectory(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Level: "debug", Format: "json", Directory: dir})
	require.NoError(t, err)
	require.NotNil(t, l)

	l.Info("hello")
	require.NoError(t, l.Sync())
}

func TestParseLevelFallsBackOnInvalid(t *testing.T) {
	l, err := New(Config{Level: "not-a-level"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestParseLevelAcceptsKnownLevels(t *testing.T) {
	level, err := parseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)
}

func TestWithTaskIDAndPIDChain(t *testing.T) {
	l, err := New(Config{Level: "info"})
	require.NoError(t, err)

	scoped := l.WithTaskID("defer_x").WithPID(123)
	require.NotNil(t, scoped)
	scoped.Info("scoped message")
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	first := Default()
	second := Default()
	assert.Same(t, first, second)
}
