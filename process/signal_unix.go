//go:build !windows

package process

import (
	"os"
	"syscall"
	"time"
)

// sendGracefulSignal delivers SIGTERM to the child's process group,
// giving it a chance to flush buffered output and exit cleanly before
// killProcessTree escalates to SIGKILL.
//
// The teacher's cluster.Worker.Kill called an identically-named
// sendGracefulSignal that was only ever defined in the Windows build
// (worker_windows.go); no Unix counterpart existed, so the teacher's own
// cluster package could not compile on POSIX. This file supplies the
// missing half.
func sendGracefulSignal(process *os.Process) error {
	if process == nil {
		return nil
	}
	return syscall.Kill(-process.Pid, syscall.SIGTERM)
}

// killProcessTree signals the child's entire process group: SIGTERM
// first, then SIGKILL if it has not exited within the grace period.
func killProcessTree(process *os.Process) error {
	if process == nil {
		return nil
	}
	if err := sendGracefulSignal(process); err == syscall.ESRCH {
		return nil // already gone
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !isProcessAlive(process) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := syscall.Kill(-process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
