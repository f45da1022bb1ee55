package process

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
	"github.com/hiblaphp/parallel-sub000/logging"
	"github.com/hiblaphp/parallel-sub000/protocol"
	"github.com/hiblaphp/parallel-sub000/statusstore"
)

// defaultTaskTimeoutSec mirrors workerrun's own fallback so a caller that
// leaves TimeoutSec unset gets the same deadline on both sides of the pipe
// instead of the parent timing out immediately against a zero duration.
const defaultTaskTimeoutSec = 30

// Outcome is the tagged Fulfilled/Rejected union returned by GetResult, per
// SPEC_FULL.md §3.
type Outcome struct {
	Fulfilled bool
	Value     any
	Reason    error
}

// Handle is the parent-side representation of one live streamed child
// process (§4.4). Ownership is exclusive to its caller; destruction
// (via GetResult's cleanup or Terminate) always closes pipes and reaps
// the child.
//
// Grounded on cluster.Worker's Spawn/Wait/Kill shape (teacher), narrowed
// from a respawning long-lived worker to a one-shot streamed task with a
// result future instead of a log-streaming sink.
type Handle struct {
	taskID     string
	osProcess  *os.Process
	cmd        *exec.Cmd
	stdin      interface{ Close() error }
	stdoutReader *bufio.Reader
	devnull    *os.File

	statusFilePath string
	loggingEnabled bool
	store          *statusstore.Store
	logger         *logging.Logger
	background     bool

	startedAt time.Time

	mu       sync.Mutex
	state    string // "running", "stopped"
	exitCode int

	done chan struct{} // closed once cmd.Wait() returns
}

// PID returns the child's process ID, or 0 if it never started.
func (h *Handle) PID() int {
	if h.osProcess == nil {
		return 0
	}
	return h.osProcess.Pid
}

// TaskID returns the task ID this handle was spawned for.
func (h *Handle) TaskID() string { return h.taskID }

// IsRunning performs an OS-level liveness check by PID.
func (h *Handle) IsRunning() bool {
	select {
	case <-h.done:
		return false
	default:
		return isProcessAlive(h.osProcess)
	}
}

// reap waits for the child to exit, releasing its resources. Every exit
// path (GetResult timeout, Terminate, natural completion) converges here.
func (h *Handle) reap() {
	defer close(h.done)
	err := h.cmd.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = "stopped"
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			h.exitCode = exitErr.ExitCode()
		} else {
			h.exitCode = -1
		}
	} else {
		h.exitCode = 0
	}
	if h.devnull != nil {
		_ = h.devnull.Close()
	}
}

// GetResult races the worker protocol's result (read over pipes on POSIX,
// polled from the status file on Windows) against a wall-clock timer of
// timeoutSec. On expiry it terminates the child and rejects
// *task-timed-out*. Pipes are always closed and the child always reaped,
// regardless of which path resolves first.
func (h *Handle) GetResult(timeoutSec int) Outcome {
	if timeoutSec <= 0 {
		timeoutSec = defaultTaskTimeoutSec
	}

	resultCh := make(chan Outcome, 1)
	go func() {
		resultCh <- h.readResult()
	}()

	timer := time.NewTimer(time.Duration(timeoutSec) * time.Second)
	defer timer.Stop()

	select {
	case outcome := <-resultCh:
		h.cleanup()
		return outcome
	case <-timer.C:
		_ = h.Terminate()
		h.cleanup()
		return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindTaskTimedOut,
			fmt.Sprintf("task %s did not complete within %ds", h.taskID, timeoutSec))}
	}
}

// cleanup closes stdin and, when logging is disabled and the status file
// lives under the system temp directory, deletes it (and the enclosing
// directory if it becomes empty) per §4.4.
func (h *Handle) cleanup() {
	if h.stdin != nil {
		_ = h.stdin.Close()
	}
	if !h.loggingEnabled && h.statusFilePath != "" && strings.HasPrefix(h.statusFilePath, os.TempDir()) {
		dir := dirOf(h.statusFilePath)
		_ = os.Remove(h.statusFilePath)
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, os.PathSeparator)
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// readResult dispatches the POSIX or Windows result-reading strategy per
// §4.4: background tasks and, per spec.md, Windows streamed tasks both poll
// the status file; POSIX streamed tasks read the stdout pipe directly.
func (h *Handle) readResult() Outcome {
	if h.background || runtime.GOOS == "windows" {
		return h.pollStatusFile()
	}
	if h.stdoutReader != nil {
		return h.readStream()
	}
	return h.pollStatusFile()
}

// readStream implements the POSIX result-reading strategy of §4.4: read
// JSON lines from stdout, dispatching on status, until a terminal event
// or EOF.
func (h *Handle) readStream() Outcome {
	for {
		lineBytes, err := h.stdoutReader.ReadBytes('\n')
		if len(lineBytes) > 0 {
			var ev protocol.Event
			if jerr := protocol.Unmarshal(trimNewline(lineBytes), &ev); jerr == nil {
				if outcome, terminal := dispatchEvent(ev, h.taskID); terminal {
					return outcome
				}
			}
		}
		if err != nil {
			return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindStreamEndedUnexpectedly,
				fmt.Sprintf("worker for task %s ended before a terminal event", h.taskID))}
		}
	}
}

// pollStatusFile implements the Windows (and background) result-reading
// strategy: poll the status file every ~10-50ms, diffing buffered_output
// against a saved high-water mark so only the new suffix is ever printed.
func (h *Handle) pollStatusFile() Outcome {
	if h.store == nil {
		return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindStreamEndedUnexpectedly,
			"no status store configured for polling fallback")}
	}

	var printedUpTo int
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		rec, err := h.store.Get(h.taskID)
		if err != nil {
			if parallelerr.Is(err, parallelerr.KindCorruptedStatus) {
				return Outcome{Fulfilled: false, Reason: err}
			}
			continue
		}
		if rec == nil {
			if !h.IsRunning() {
				return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindStreamEndedUnexpectedly,
					"worker exited before writing a status record")}
			}
			continue
		}

		if !h.background && len(rec.BufferedOutput) > printedUpTo {
			newSuffix := rec.BufferedOutput[printedUpTo:]
			fmt.Print(newSuffix)
			printedUpTo = len(rec.BufferedOutput)
		}

		switch rec.Status {
		case statusstore.StatusCompleted:
			value := decodeResult(rec.Result, rec.ResultSerialized)
			return Outcome{Fulfilled: true, Value: value}
		case statusstore.StatusError:
			return Outcome{Fulfilled: false, Reason: reconstructError(rec.Class, rec.Error, rec.File, rec.Line, rec.StackTrace)}
		case statusstore.StatusTimeout:
			return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindTaskTimedOut, rec.Message)}
		case statusstore.StatusCancelled:
			return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindCancelled, "task was cancelled")}
		}

		if !h.IsRunning() {
			return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindStreamEndedUnexpectedly,
				"worker exited without a terminal status")}
		}
	}
	return Outcome{}
}

// decodeResult inverts workerrun's fallback encoding: when resultSerialized
// is set, raw holds a JSON string wrapping base64 text (the result wasn't
// directly JSON-marshalable), so it must be string-unwrapped before the
// base64 decode, and the decoded bytes are returned as a []byte; otherwise
// raw is returned undecoded, as the json.RawMessage text of the result.
func decodeResult(raw json.RawMessage, resultSerialized bool) any {
	if !resultSerialized {
		if raw == nil {
			return nil
		}
		return raw
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return string(raw)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}

func dispatchEvent(ev protocol.Event, taskID string) (Outcome, bool) {
	switch ev.Status {
	case protocol.StatusOutput:
		fmt.Print(ev.Output)
		return Outcome{}, false
	case protocol.StatusCompleted:
		value := decodeResult(ev.Result, ev.ResultSerialized)
		return Outcome{Fulfilled: true, Value: value}, true
	case protocol.StatusError:
		return Outcome{Fulfilled: false, Reason: reconstructError(ev.Class, ev.Message, ev.File, ev.Line, ev.StackTrace)}, true
	case protocol.StatusTimeout:
		return Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindTaskTimedOut, ev.Message)}, true
	default:
		// RUNNING, or anything unrecognized: ignore per §6.
		return Outcome{}, false
	}
}

// reconstructError builds the *task-failed* error carrying the worker's
// class/message/file/line and an appended, separator-delimited worker
// trace block, per §4.4/§7.
func reconstructError(class, message, file string, line int, stack string) error {
	msg := message
	if class != "" {
		msg = fmt.Sprintf("%s: %s", class, message)
	}
	if file != "" {
		msg = fmt.Sprintf("%s (%s:%d)", msg, file, line)
	}
	if stack != "" {
		msg = msg + "\n--- WORKER TRACE ---\n" + stack
	}
	return parallelerr.New(parallelerr.KindTaskFailed, msg)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// Terminate force-kills the child and its descendants and, if a status
// record exists, marks it CANCELLED. Idempotent and synchronous.
func (h *Handle) Terminate() error {
	if !h.IsRunning() {
		h.markCancelled()
		return nil
	}
	if err := killProcessTree(h.osProcess); err != nil {
		return parallelerr.Wrap(parallelerr.KindSpawnFailed, "terminating worker process", err)
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}

	h.markCancelled()
	return nil
}

func (h *Handle) markCancelled() {
	if h.store == nil {
		return
	}
	rec, err := h.store.Get(h.taskID)
	if err != nil || rec == nil {
		return
	}
	if rec.Status == statusstore.StatusCompleted || rec.Status == statusstore.StatusError ||
		rec.Status == statusstore.StatusTimeout || rec.Status == statusstore.StatusCancelled {
		return
	}
	_ = h.store.Update(h.taskID, statusstore.StatusCancelled, "terminated by caller", statusstore.Extras{})
}
