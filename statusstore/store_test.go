package statusstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s
}

func TestCreateInitialAndGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateInitial("task-1", "function", 12))

	rec, err := s.Get("task-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "function", rec.CallbackType)
	assert.Equal(t, 12, rec.ContextSize)
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Get("does-not-exist")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetCorruptedReturnsCorruptedStatusError(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Directory, "bad-task.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := s.Get("bad-task")
	require.Error(t, err)
	assert.True(t, parallelerr.Is(err, parallelerr.KindCorruptedStatus))
}

func TestUpdatePreservesCreatedAtAndCallbackType(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateInitial("task-2", "function", 4))

	first, err := s.Get("task-2")
	require.NoError(t, err)

	require.NoError(t, s.Update("task-2", StatusRunning, "started", Extras{PID: 555}))

	second, err := s.Get("task-2")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "function", second.CallbackType)
	assert.Equal(t, 4, second.ContextSize)
	assert.Equal(t, 555, second.PID)
	assert.Equal(t, StatusRunning, second.Status)
}

func TestUpdateSeedsRecordWhenMissing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update("never-created", StatusCompleted, "done", Extras{}))

	rec, err := s.Get("never-created")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestListAllSortedOrdersByTimestampDesc(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateInitial("older", "function", 0))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.CreateInitial("newer", "function", 0))

	records, err := s.ListAllSorted()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "newer", records[0].TaskID)
	assert.Equal(t, "older", records[1].TaskID)
}

func TestSummarizeCountsByStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateInitial("a", "function", 0))
	require.NoError(t, s.Update("a", StatusCompleted, "ok", Extras{MemoryUsage: 1024}))
	require.NoError(t, s.CreateInitial("b", "function", 0))
	require.NoError(t, s.Update("b", StatusError, "boom", Extras{Class: "RuntimeError"}))

	stats, err := s.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CountByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.CountByStatus[StatusError])
	assert.Equal(t, uint64(1024), stats.PeakMemory)
}

func TestCleanupRemovesOldNonRunningRecords(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateInitial("stale", "function", 0))
	require.NoError(t, s.Update("stale", StatusCompleted, "done", Extras{}))

	rec, err := s.Get("stale")
	require.NoError(t, err)
	rec.CreatedAt = float64(time.Now().Add(-48 * time.Hour).Unix())
	require.NoError(t, s.writeLocked(*rec))

	require.NoError(t, s.CreateInitial("fresh", "function", 0))

	removed, err := s.Cleanup(24*time.Hour, "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(s.Directory, "stale.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Directory, "fresh.json"))
	assert.NoError(t, err)
}

func TestCleanupSkipsRunningRecords(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateInitial("still-going", "function", 0))
	require.NoError(t, s.Update("still-going", StatusRunning, "working", Extras{}))

	rec, err := s.Get("still-going")
	require.NoError(t, err)
	rec.CreatedAt = float64(time.Now().Add(-48 * time.Hour).Unix())
	require.NoError(t, s.writeLocked(*rec))

	removed, err := s.Cleanup(24*time.Hour, "")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
