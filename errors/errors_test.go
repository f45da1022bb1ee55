package errors

import (
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(KindTaskFailed, "boom")
	assert.Equal(t, "TASK_FAILED: boom", err.Error())
}

func TestWrapIncludesCause(t *testing.T) {
	cause := goerrors.New("underlying")
	err := Wrap(KindSpawnFailed, "spawning worker", cause)
	assert.Contains(t, err.Error(), "underlying")
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsMatchesSentinelAcrossWrap(t *testing.T) {
	cause := goerrors.New("epipe")
	err := Wrap(KindStreamEndedUnexpectedly, "stream closed", cause)

	assert.True(t, goerrors.Is(err, ErrStreamEndedUnexpectedly))
	assert.False(t, goerrors.Is(err, ErrTaskFailed))
}

func TestPackageLevelIsAndKindOf(t *testing.T) {
	err := New(KindNestingExceeded, "too deep")

	assert.True(t, Is(err, KindNestingExceeded))
	assert.False(t, Is(err, KindRateLimited))
	assert.Equal(t, KindNestingExceeded, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(goerrors.New("plain")))
}

func TestErrorsAsExtractsError(t *testing.T) {
	err := New(KindCorruptedStatus, "bad json")
	var target *Error
	require.True(t, goerrors.As(err, &target))
	assert.Equal(t, KindCorruptedStatus, target.Kind)
}
