package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	fw := NewFixedWindow(3)

	assert.True(t, fw.Allow())
	assert.True(t, fw.Allow())
	assert.True(t, fw.Allow())
	assert.False(t, fw.Allow())
}

func TestFixedWindowResetsAfterOneSecond(t *testing.T) {
	fw := NewFixedWindow(1)

	assert.True(t, fw.Allow())
	assert.False(t, fw.Allow())

	fw.lastReset = fw.lastReset.Add(-2 * time.Second)

	assert.True(t, fw.Allow())
	assert.Equal(t, 1, fw.Count())
}

func TestFixedWindowZeroLimitNeverAllows(t *testing.T) {
	fw := NewFixedWindow(0)
	assert.False(t, fw.Allow())
}
