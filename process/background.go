package process

import (
	"os"
	"time"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
	"github.com/hiblaphp/parallel-sub000/statusstore"
)

// BackgroundProcess is the parent-side handle returned by
// Manager.SpawnBackground (§4.5): a thinner, fire-and-forget cousin of
// Handle with no result future, only liveness/termination and a pointer
// back into the status store for observability.
type BackgroundProcess struct {
	taskID    string
	pid       int
	process   *os.Process
	store     *statusstore.Store
	loggingEnabled bool
	startedAt time.Time
}

// TaskID returns the task ID this process was spawned for.
func (b *BackgroundProcess) TaskID() string { return b.taskID }

// PID returns the spawned child's process ID.
func (b *BackgroundProcess) PID() int { return b.pid }

// StartedAt returns when the process was spawned.
func (b *BackgroundProcess) StartedAt() time.Time { return b.startedAt }

// IsRunning performs an OS-level liveness check by PID, per §4.5.
func (b *BackgroundProcess) IsRunning() bool {
	return isProcessAlive(b.process)
}

// Terminate force-kills the background process tree and, if a status
// record exists, marks it CANCELLED. Idempotent.
func (b *BackgroundProcess) Terminate() error {
	if !b.IsRunning() {
		b.markCancelled()
		return nil
	}
	if err := killProcessTree(b.process); err != nil {
		return parallelerr.Wrap(parallelerr.KindSpawnFailed, "terminating background worker process", err)
	}
	b.markCancelled()
	return nil
}

func (b *BackgroundProcess) markCancelled() {
	if b.store == nil {
		return
	}
	rec, err := b.store.Get(b.taskID)
	if err != nil || rec == nil {
		return
	}
	switch rec.Status {
	case statusstore.StatusCompleted, statusstore.StatusError, statusstore.StatusTimeout, statusstore.StatusCancelled:
		return
	}
	_ = b.store.Update(b.taskID, statusstore.StatusCancelled, "terminated by caller", statusstore.Extras{})
}
