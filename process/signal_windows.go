//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

// sendGracefulSignal on Windows calls os.Process.Signal with os.Interrupt.
// On Windows, os.Process.Signal supports only os.Kill, so this returns an
// error; killProcessTree below does not call it.
func sendGracefulSignal(process *os.Process) error {
	return process.Signal(os.Interrupt)
}

// killProcessTree shells out to taskkill /F /T, since the worker may
// have spawned descendants of its own and stdlib os.Process.Kill only
// terminates the single PID.
func killProcessTree(process *os.Process) error {
	if process == nil {
		return nil
	}
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(process.Pid))
	return cmd.Run()
}
