//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// applyProcAttr puts the child in its own process group so that a
// timeout or cancellation can kill the whole tree (worker plus any
// grandchildren it spawns) with a single signal to -pid.
func applyProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// isProcessAlive sends signal 0, which performs permission/existence
// checks without actually delivering a signal.
func isProcessAlive(p *os.Process) bool {
	if p == nil {
		return false
	}
	err := p.Signal(syscall.Signal(0))
	return err == nil
}
