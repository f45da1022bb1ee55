package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
	"github.com/hiblaphp/parallel-sub000/registry"
	"github.com/hiblaphp/parallel-sub000/statusstore"
	"github.com/hiblaphp/parallel-sub000/supervisor"
)

func newTestManager(t *testing.T, store *statusstore.Store) *Manager {
	t.Helper()
	scriptPath := writeFakeWorkerScript(t)

	serial := registry.NewNamed()
	noop := func(any) (any, error) { return nil, nil }
	serial.Register("succeed", noop)
	serial.Register("fail", noop)
	serial.Register("slow", noop)
	serial.Register("output", noop)

	return New(Config{
		WorkerBinary:     "/bin/sh",
		WorkerScriptPath: scriptPath,
		LoggingEnabled:   store != nil,
	}, nil, store, nil, serial)
}

func TestSpawnStreamedSuccess(t *testing.T) {
	m := newTestManager(t, nil)

	handle, err := m.SpawnStreamed(context.Background(), nil, "succeed", nil, 5)
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.NotZero(t, handle.PID())

	outcome := handle.GetResult(5)
	assert.True(t, outcome.Fulfilled)
}

func TestSpawnStreamedFailure(t *testing.T) {
	m := newTestManager(t, nil)

	handle, err := m.SpawnStreamed(context.Background(), nil, "fail", nil, 5)
	require.NoError(t, err)

	outcome := handle.GetResult(5)
	assert.False(t, outcome.Fulfilled)
	require.Error(t, outcome.Reason)
	assert.Contains(t, outcome.Reason.Error(), "boom")
}

func TestSpawnStreamedRespectsNestingLimit(t *testing.T) {
	m := newTestManager(t, nil)
	m.cfg.MaxNestingLevel = 1

	t.Setenv("NEST_LEVEL", "1")

	_, err := m.SpawnStreamed(context.Background(), nil, "succeed", nil, 5)
	require.Error(t, err)
	assert.Equal(t, parallelerr.KindNestingExceeded, parallelerr.KindOf(err))
}

func TestSpawnStreamedWritesStatusFileWhenLoggingEnabled(t *testing.T) {
	dir := t.TempDir()
	store, err := statusstore.New(dir)
	require.NoError(t, err)

	m := newTestManager(t, store)

	handle, err := m.SpawnStreamed(context.Background(), nil, "succeed", nil, 5)
	require.NoError(t, err)

	_ = handle.GetResult(5)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestSpawnBackgroundFireAndForget(t *testing.T) {
	dir := t.TempDir()
	store, err := statusstore.New(dir)
	require.NoError(t, err)

	m := newTestManager(t, store)

	bg, err := m.SpawnBackground(context.Background(), nil, "succeed", nil, 5)
	require.NoError(t, err)
	require.NotNil(t, bg)
	assert.NotZero(t, bg.PID())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && bg.IsRunning() {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, bg.IsRunning())
}

func TestSpawnBackgroundRateLimited(t *testing.T) {
	dir := t.TempDir()
	store, err := statusstore.New(dir)
	require.NoError(t, err)

	scriptPath := writeFakeWorkerScript(t)
	serial := registry.NewNamed()
	serial.Register("succeed", func(any) (any, error) { return nil, nil })

	m := New(Config{
		WorkerBinary:     "/bin/sh",
		WorkerScriptPath: scriptPath,
		SpawnsPerSecond:  1,
		LoggingEnabled:   true,
	}, nil, store, nil, serial)

	_, err = m.SpawnBackground(context.Background(), nil, "succeed", nil, 5)
	require.NoError(t, err)

	_, err = m.SpawnBackground(context.Background(), nil, "succeed", nil, 5)
	require.Error(t, err)
	assert.Equal(t, parallelerr.KindRateLimited, parallelerr.KindOf(err))
}

func TestSpawnStreamedTracksAndUntracksWithSupervisor(t *testing.T) {
	m := newTestManager(t, nil)
	sup := supervisor.New(supervisor.Config{CheckInterval: time.Hour}, nil, nil)
	m.SetSupervisor(sup)

	// "slow" sleeps 5s; GetResult's own 1s timeout below terminates it well
	// before then, giving a reliable window to observe the handle tracked
	// while it's still alive instead of racing a near-instant fake worker.
	handle, err := m.SpawnStreamed(context.Background(), nil, "slow", nil, 1)
	require.NoError(t, err)
	assert.True(t, sup.Tracked(handle.TaskID()), "handle was not tracked right after spawn")

	_ = handle.GetResult(1)

	assert.Eventually(t, func() bool {
		return !sup.Tracked(handle.TaskID())
	}, time.Second, 5*time.Millisecond, "handle was never untracked after completion")
}

func TestDefaultAndResetDefault(t *testing.T) {
	original := Default()
	require.NotNil(t, original)

	replacement := New(Config{}, nil, nil, nil, registry.NewNamed())
	ResetDefault(replacement)
	assert.Same(t, replacement, Default())

	ResetDefault(original)
}

func writeFakeWorkerScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fakeworker.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(fakeWorkerScriptBody), 0o755))
	return scriptPath
}

// fakeWorkerScriptBody mimics just enough of the real worker protocol
// (§4.3) for manager/handle tests: it reads the one task payload line and
// replies RUNNING + a terminal event, branching on the requested callback
// name instead of actually deserializing and invoking anything.
const fakeWorkerScriptBody = `#!/bin/sh
read -r line
case "$line" in
  *'"serialized_callback":"fail"'*)
    printf '{"status":"RUNNING"}\n'
    printf '{"status":"ERROR","class":"BoomError","message":"boom"}\n'
    ;;
  *'"serialized_callback":"slow"'*)
    printf '{"status":"RUNNING"}\n'
    sleep 5
    printf '{"status":"COMPLETED","result":1}\n'
    ;;
  *'"serialized_callback":"output"'*)
    printf '{"status":"RUNNING"}\n'
    printf '{"status":"OUTPUT","output":"hello from worker\\n"}\n'
    printf '{"status":"COMPLETED","result":1}\n'
    ;;
  *)
    printf '{"status":"RUNNING"}\n'
    printf '{"status":"COMPLETED","result":1}\n'
    ;;
esac
`
