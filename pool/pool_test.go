package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
	"github.com/hiblaphp/parallel-sub000/process"
	"github.com/hiblaphp/parallel-sub000/registry"
)

// fakeWorkerScript is a stand-in worker: it never runs the serialized
// callable at all, it just reads the one task payload line the Spawn
// Handler writes and replies on the wire protocol the way a real worker
// would, branching on which name was requested. This lets the pool tests
// exercise the real exec.Cmd/pipe plumbing in process/spawn.go without
// needing a compiled cmd/worker binary.
const fakeWorkerScript = `#!/bin/sh
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
  *)
    printf '{"status":"RUNNING"}\n'
    printf '{"status":"COMPLETED","result":1}\n'
    ;;
esac
`

// newFakeManager builds a process.Manager whose worker binary is /bin/sh
// running fakeWorkerScript, with "succeed"/"fail"/"slow" pre-registered as
// dummy callables so SerializeNamed accepts those task names.
func newFakeManager(t *testing.T) *process.Manager {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fakeworker.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(fakeWorkerScript), 0o755))

	serial := registry.NewNamed()
	noop := func(any) (any, error) { return nil, nil }
	serial.Register("succeed", noop)
	serial.Register("fail", noop)
	serial.Register("slow", noop)

	return process.New(process.Config{
		WorkerBinary:     "/bin/sh",
		WorkerScriptPath: scriptPath,
	}, nil, nil, nil, serial)
}

func rawResult(v any) string {
	raw, ok := v.(json.RawMessage)
	if !ok {
		return ""
	}
	return string(raw)
}

func TestRunSettledAllSucceed(t *testing.T) {
	manager := newFakeManager(t)
	p := New[string](manager, 3)

	tasks := []Task[string]{
		{Key: "a", CallbackName: "succeed"},
		{Key: "b", CallbackName: "succeed"},
		{Key: "c", CallbackName: "succeed"},
	}

	outcomes, err := p.RunSettled(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, k := range []string{"a", "b", "c"} {
		o, ok := outcomes[k]
		require.True(t, ok, "missing key %q", k)
		assert.True(t, o.Fulfilled)
		assert.Equal(t, "1", rawResult(o.Value))
	}
}

func TestRunRejectsOnFirstFailureAndTerminatesRest(t *testing.T) {
	manager := newFakeManager(t)
	p := New[string](manager, 4)

	tasks := []Task[string]{
		{Key: "a", CallbackName: "slow"},
		{Key: "b", CallbackName: "slow"},
		{Key: "c", CallbackName: "fail"},
	}

	start := time.Now()
	_, err := p.Run(context.Background(), tasks)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, parallelerr.Is(err, parallelerr.KindTaskFailed) || parallelerr.KindOf(err) != "",
		"expected a classified engine error, got %v", err)
	// The two slow tasks sleep 5s; a correct implementation terminates them
	// as soon as the failure is observed instead of waiting them out.
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRunSettledNeverRejectsOnTaskFailure(t *testing.T) {
	manager := newFakeManager(t)
	p := New[string](manager, 3)

	tasks := []Task[string]{
		{Key: "ok1", CallbackName: "succeed"},
		{Key: "bad", CallbackName: "fail"},
		{Key: "ok2", CallbackName: "succeed"},
	}

	outcomes, err := p.RunSettled(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.True(t, outcomes["ok1"].Fulfilled)
	assert.True(t, outcomes["ok2"].Fulfilled)
	assert.False(t, outcomes["bad"].Fulfilled)
	require.Error(t, outcomes["bad"].Reason)
	assert.Contains(t, outcomes["bad"].Reason.Error(), "boom")
}

func TestRunSettledBoundedConcurrencyCompletesAllTasks(t *testing.T) {
	manager := newFakeManager(t)
	p := New[int](manager, 2) // fewer slots than tasks forces FIFO refill

	var tasks []Task[int]
	for i := 0; i < 6; i++ {
		tasks = append(tasks, Task[int]{Key: i, CallbackName: "succeed"})
	}

	outcomes, err := p.RunSettled(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcomes, 6)
	for i := 0; i < 6; i++ {
		assert.True(t, outcomes[i].Fulfilled, "task %d did not complete", i)
	}
}

func TestRunSettledPreservesKeysOutOfOrderCompletion(t *testing.T) {
	manager := newFakeManager(t)
	p := New[string](manager, 3)

	tasks := []Task[string]{
		{Key: "slow-one", CallbackName: "slow", TimeoutSec: 1},
		{Key: "fast-one", CallbackName: "succeed"},
	}

	outcomes, err := p.RunSettled(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes["fast-one"].Fulfilled)
	// The slow task's per-task timeout (1s) fires well before its 5s sleep
	// finishes, so it settles as a timed-out failure rather than hanging
	// the whole RunSettled call.
	assert.False(t, outcomes["slow-one"].Fulfilled)
}

func TestRunSettledCancellationTerminatesRunningTasks(t *testing.T) {
	manager := newFakeManager(t)
	p := New[string](manager, 2)

	tasks := []Task[string]{
		{Key: "a", CallbackName: "slow"},
		{Key: "b", CallbackName: "slow"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.RunSettled(ctx, tasks)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 3*time.Second)
}
