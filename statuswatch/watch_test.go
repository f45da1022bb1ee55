package statuswatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiblaphp/parallel-sub000/statusstore"
)

func TestWatchObservesUpdate(t *testing.T) {
	dir := t.TempDir()
	store, err := statusstore.New(dir)
	require.NoError(t, err)

	w, err := New(store, nil)
	require.NoError(t, err)
	defer w.Close()

	events := make(chan Event, 8)
	require.NoError(t, w.Watch(func(e Event) { events <- e }))

	require.NoError(t, store.CreateInitial("task-1", "function", 0))

	select {
	case e := <-events:
		assert.Equal(t, "task-1", e.TaskID)
		assert.Equal(t, EventUpdated, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}
