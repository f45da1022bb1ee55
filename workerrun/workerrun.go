// Package workerrun implements the child-side Worker Runtime of
// SPEC_FULL.md §4.3: the program a spawned worker process actually
// executes. It reads exactly one task payload from stdin, runs it, and
// exits — emitting the RUNNING/OUTPUT/COMPLETED/ERROR/TIMEOUT event
// stream on stdout described in §4.3/§6 along the way.
//
// Grounded on the teacher's exec/pipe idioms (internal/cluster/worker.go
// for the parent-side counterpart of this protocol) and on the broader
// pack's os.Pipe-based stdout capture pattern (e.g.
// aghassemi-go.ref/lib/exec/parent.go), generalized here to redirect the
// process-wide os.Stdout so a callable's own prints are captured as
// OUTPUT events instead of corrupting the protocol stream that RUNNING/
// COMPLETED/ERROR/TIMEOUT travel on.
package workerrun

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hiblaphp/parallel-sub000/protocol"
	"github.com/hiblaphp/parallel-sub000/registry"
	"github.com/hiblaphp/parallel-sub000/statusstore"
)

const maxExecutionTimeMarker = "maximum execution time"

// ExitCode values returned by Run, matching §4.3 step 11.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitTimeout = 124
)

// Run executes exactly one task read from stdin against serial's
// deserializer, and returns the process's intended exit code; callers
// (cmd/worker's main) are expected to os.Exit(Run(...)).
func Run(serial registry.Serializer) int {
	realStdout := os.Stdout
	w := &worker{serial: serial, out: realStdout}
	return w.run()
}

type worker struct {
	serial registry.Serializer
	out    *os.File // the real fd the protocol stream is written to

	mu             sync.Mutex
	bufferedOutput bytes.Buffer

	store  *statusstore.Store
	taskID string
}

func (w *worker) run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			code = w.terminateWith(classifyReason(msg), "PanicError", msg, string(debug.Stack()))
		}
	}()

	if err := w.checkNesting(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return ExitFailure
	}

	line, err := w.waitForStdinLine()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: timed out waiting for task payload:", err)
		return ExitFailure
	}

	var payload protocol.TaskPayload
	if err := protocol.Unmarshal(line, &payload); err != nil {
		fmt.Fprintln(os.Stderr, "worker: malformed task payload:", err)
		return ExitFailure
	}
	w.taskID = payload.TaskID

	if payload.LoggingEnabled && payload.StatusFile != "" {
		if store, err := statusstore.New(filepath.Dir(payload.StatusFile)); err == nil {
			w.store = store
		}
	}

	timeoutSec := payload.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	timedOut := make(chan struct{})
	timer := time.AfterFunc(time.Duration(timeoutSec)*time.Second, func() {
		close(timedOut)
		w.emit(protocol.Event{Status: protocol.StatusTimeout, Message: fmt.Sprintf("task exceeded its %ds time limit", timeoutSec)})
		w.writeStatus(statusstore.StatusTimeout, "timed out", statusstore.Extras{})
		os.Exit(ExitTimeout)
	})
	defer timer.Stop()

	w.runFrameworkHooks(payload)

	fn, ctx, err := w.serial.Deserialize(payload.SerializedCallback, payload.Context)
	if err != nil {
		return w.terminateWith(statusstore.StatusError, "DeserializeError", err.Error(), "")
	}

	restoreStdout, outputDone := w.captureStdout(timedOut)

	w.emit(protocol.Event{Status: protocol.StatusRunning})
	w.writeStatus(statusstore.StatusRunning, "running", statusstore.Extras{PID: os.Getpid()})

	result, callErr := fn(ctx)

	restoreStdout()
	<-outputDone

	select {
	case <-timedOut:
		return ExitTimeout
	default:
	}
	timer.Stop()

	if callErr != nil {
		return w.terminateWith(statusstore.StatusError, classOf(callErr), callErr.Error(), "")
	}

	return w.complete(result)
}

// checkNesting implements §4.3 step 1's fork-bomb guard on the
// already-incremented NEST_LEVEL/MAX_NESTING_LEVEL set by the parent.
func (w *worker) checkNesting() error {
	level := envInt("NEST_LEVEL", 0)
	max := envInt("MAX_NESTING_LEVEL", 10)
	if level > max {
		return fmt.Errorf("nesting level %d exceeds max %d", level, max)
	}
	return nil
}

// waitForStdinLine implements §4.3 step 3.
func (w *worker) waitForStdinLine() ([]byte, error) {
	timeoutMS := envInt("PARALLEL_WORKER_STDIN_TIMEOUT_MS", 5000)

	type readResult struct {
		line []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		reader := bufio.NewReaderSize(os.Stdin, 64*1024)
		line, err := reader.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case r := <-ch:
		if len(r.line) == 0 && r.err != nil {
			return nil, r.err
		}
		return r.line, nil
	case <-time.After(time.Duration(timeoutMS) * time.Millisecond):
		return nil, fmt.Errorf("no task payload within %dms", timeoutMS)
	}
}

// runFrameworkHooks is the Go-native stand-in for §4.3 step 5's
// "require the autoloader, run the framework bootstrap snippet": Go has
// no dynamic autoloading, so AutoloadPath is ignored, FrameworkBootstrap
// is only checked for readability, and FrameworkInitCode (when present) runs as a single
// best-effort shell command. Failures here are logged, never fatal —
// a host's bootstrap hook is a convenience hook, not a required step.
func (w *worker) runFrameworkHooks(payload protocol.TaskPayload) {
	if payload.FrameworkBootstrap != "" {
		if _, err := os.Stat(payload.FrameworkBootstrap); err != nil {
			fmt.Fprintln(os.Stderr, "worker: framework bootstrap file unreadable:", err)
		}
	}
	if payload.FrameworkInitCode == "" {
		return
	}
	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}
	cmd := exec.Command(shell, flag, payload.FrameworkInitCode)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker: framework init code failed:", err)
	}
}

// captureStdout implements §4.3 step 7: the process-wide os.Stdout is
// swapped for a pipe for the duration of the callable's execution, so
// anything it prints becomes OUTPUT events on the real protocol stream
// instead of interleaving raw bytes into it. Each chunk is also scanned
// for the PHP-style inline timeout string so a host callable ported from
// that runtime still triggers a TIMEOUT event even without signal
// support on its platform.
func (w *worker) captureStdout(timedOut <-chan struct{}) (restore func(), done <-chan struct{}) {
	r, pw, err := os.Pipe()
	if err != nil {
		doneCh := make(chan struct{})
		close(doneCh)
		return func() {}, doneCh
	}

	original := os.Stdout
	os.Stdout = pw

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			chunk := scanner.Text()
			w.mu.Lock()
			w.bufferedOutput.WriteString(chunk)
			w.bufferedOutput.WriteByte('\n')
			buffered := w.bufferedOutput.String()
			w.mu.Unlock()

			select {
			case <-timedOut:
				return
			default:
			}

			if strings.Contains(chunk, maxExecutionTimeMarker) {
				w.emit(protocol.Event{Status: protocol.StatusTimeout, Message: chunk})
				w.writeStatus(statusstore.StatusTimeout, chunk, statusstore.Extras{})
				os.Exit(ExitTimeout)
			}

			w.emit(protocol.Event{Status: protocol.StatusOutput, Output: chunk + "\n"})
			w.writeStatus(statusstore.StatusRunning, "running", statusstore.Extras{BufferedOutput: buffered})
		}
	}()

	return func() {
		os.Stdout = original
		_ = pw.Close()
	}, doneCh
}

// complete implements §4.3 step 9: try to JSON-encode result directly;
// fall back to a base64-wrapped opaque encoding when it can't be.
func (w *worker) complete(result any) int {
	raw, err := json.Marshal(result)
	serialized := false
	if err != nil {
		raw, serialized = fallbackEncode(result)
	}

	w.emit(protocol.Event{Status: protocol.StatusCompleted, Result: raw, ResultSerialized: serialized})
	w.writeStatus(statusstore.StatusCompleted, "completed", statusstore.Extras{Result: raw, ResultSerialized: serialized})
	return ExitOK
}

func fallbackEncode(result any) (json.RawMessage, bool) {
	text := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%v", result)))
	encoded, err := json.Marshal(text)
	if err != nil {
		return json.RawMessage(`""`), true
	}
	return encoded, true
}

// terminateWith is the fatal-error shutdown hook of §4.3 step 2: emit
// the matching terminal event on the protocol stream and in the status
// file, then return the process exit code.
func (w *worker) terminateWith(status statusstore.Status, class, message, stack string) int {
	if status == statusstore.StatusTimeout || classifyReason(message) == statusstore.StatusTimeout {
		w.emit(protocol.Event{Status: protocol.StatusTimeout, Message: message, Class: class, StackTrace: stack})
		w.writeStatus(statusstore.StatusTimeout, message, statusstore.Extras{Class: class, Error: message, StackTrace: stack})
		return ExitTimeout
	}
	w.emit(protocol.Event{Status: protocol.StatusError, Class: class, Message: message, StackTrace: stack})
	w.writeStatus(statusstore.StatusError, message, statusstore.Extras{Class: class, Error: message, StackTrace: stack})
	return ExitFailure
}

// classifyReason distinguishes a timeout-shaped fatal error from any
// other, per §4.3's "classifies the error (timeout string vs. other)".
func classifyReason(message string) statusstore.Status {
	if strings.Contains(message, maxExecutionTimeMarker) {
		return statusstore.StatusTimeout
	}
	return statusstore.StatusError
}

func classOf(err error) string {
	return fmt.Sprintf("%T", err)
}

func (w *worker) emit(ev protocol.Event) {
	line, err := protocol.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = w.out.Write(line)
}

func (w *worker) writeStatus(status statusstore.Status, message string, extras statusstore.Extras) {
	if w.store == nil || w.taskID == "" {
		return
	}
	_ = w.store.Update(w.taskID, status, message, extras)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
