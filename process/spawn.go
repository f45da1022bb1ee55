package process

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hiblaphp/parallel-sub000/logging"
	"github.com/hiblaphp/parallel-sub000/protocol"
	"github.com/hiblaphp/parallel-sub000/statusstore"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
)

// MaxPayloadBytes bounds the task payload written to a worker's stdin;
// exceeding it is reported as *payload-too-large* rather than silently
// truncated.
const MaxPayloadBytes = 8 * 1024 * 1024 // 8MB

// spawnParams carries everything the Spawn Handler needs to build,
// launch, and hand off one child process; see SPEC_FULL.md §4.2.
type spawnParams struct {
	taskID     string
	binary     string
	scriptPath string
	background bool
	timeoutSec int

	loggingEnabled     bool // forces the worker to persist status records; may exceed the caller's own preference (e.g. forced true on Windows, which has no pipe-streaming path)
	keepStatusFile     bool // the caller's actual preference; controls whether Handle.cleanup deletes the status file afterward
	statusFile         string
	serializedCallback string
	serializedContext  string
	autoloadPath       string
	frameworkBootstrap string
	frameworkInitCode  string
	memoryLimit        string
	maxNestingLevel    int

	logger *logging.Logger
	store  *statusstore.Store
}

// ResolveWorkerBinary resolves the host runtime binary: try the current
// executable's own path (so `<binary> worker` re-invokes this same
// program in worker mode — see cmd/worker), else search PATH for
// "parallel-worker", else a well-known install location.
func ResolveWorkerBinary() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	if p, err := exec.LookPath("parallel-worker"); err == nil {
		return p
	}
	return "/usr/local/bin/parallel-worker"
}

// ResolveWorkerScriptPath resolves the worker entry point: the first
// caller-supplied candidate that exists, else a "parallel-worker" file
// beside the current executable. Fails with *worker-missing* if none is
// found.
func ResolveWorkerScriptPath(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	exe, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "parallel-worker")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	return "", parallelerr.New(parallelerr.KindWorkerMissing, "no readable worker entry point found")
}

// spawn is the Spawn Handler: builds argv, creates pipes, forks/execs,
// writes the task payload to stdin, and returns a live Handle.
func spawn(p spawnParams) (*Handle, error) {
	if len(p.serializedCallback) > MaxPayloadBytes {
		return nil, parallelerr.New(parallelerr.KindPayloadTooLarge, "serialized callback exceeds payload limit")
	}

	argv := []string{p.scriptPath}
	cmd := exec.Command(p.binary, argv...)

	cmd.Env = buildChildEnv(p.maxNestingLevel, p.background)
	applyProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, parallelerr.Wrap(parallelerr.KindSpawnFailed, "creating stdin pipe", err)
	}

	var devnull *os.File
	var stdoutReader *bufio.Reader

	if p.background {
		f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, parallelerr.Wrap(parallelerr.KindSpawnFailed, "opening devnull", err)
		}
		devnull = f
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	} else {
		outPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, parallelerr.Wrap(parallelerr.KindSpawnFailed, "creating stdout pipe", err)
		}
		errPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, parallelerr.Wrap(parallelerr.KindSpawnFailed, "creating stderr pipe", err)
		}
		stdoutReader = bufio.NewReaderSize(outPipe, 64*1024)
		// stderr is not part of the worker protocol (stdout carries every
		// JSON event); drain and discard it so the child never blocks
		// writing diagnostics to a full pipe.
		go func() { _, _ = io.Copy(io.Discard, errPipe) }()
	}

	if err := cmd.Start(); err != nil {
		return nil, parallelerr.Wrap(parallelerr.KindSpawnFailed, "starting worker process", err)
	}

	payload := protocol.TaskPayload{
		TaskID:             p.taskID,
		StatusFile:         p.statusFile,
		SerializedCallback: p.serializedCallback,
		Context:            p.serializedContext,
		AutoloadPath:       p.autoloadPath,
		FrameworkBootstrap: p.frameworkBootstrap,
		FrameworkInitCode:  p.frameworkInitCode,
		LoggingEnabled:     p.loggingEnabled,
		TimeoutSeconds:     p.timeoutSec,
		MemoryLimit:        p.memoryLimit,
	}
	line, err := protocol.Marshal(payload)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, parallelerr.Wrap(parallelerr.KindSerializeFailed, "marshaling task payload", err)
	}
	if len(line) > MaxPayloadBytes {
		_ = cmd.Process.Kill()
		return nil, parallelerr.New(parallelerr.KindPayloadTooLarge, "task payload exceeds payload limit")
	}

	if _, err := stdin.Write(line); err != nil {
		_ = cmd.Process.Kill()
		return nil, parallelerr.Wrap(parallelerr.KindSpawnFailed, "writing task payload to worker stdin", err)
	}

	if p.background {
		_ = stdin.Close()
	}
	// Streamed: stdin is kept open (unused but retained) per §4.2 step 7.

	h := &Handle{
		taskID:         p.taskID,
		osProcess:      cmd.Process,
		cmd:            cmd,
		stdin:          stdin,
		stdoutReader:   stdoutReader,
		devnull:        devnull,
		statusFilePath: p.statusFile,
		loggingEnabled: p.keepStatusFile,
		store:          p.store,
		logger:         p.logger,
		background:     p.background,
		startedAt:      time.Now(),
		done:           make(chan struct{}),
	}

	go h.reap()

	return h, nil
}

// stdinWaitTimeoutMS implements §4.3 step 3: a streamed worker waits up
// to 5s for its task payload on stdin, a background one only 2s, since a
// fire-and-forget caller has already moved on and has no one left to
// notice a slow handshake.
func stdinWaitTimeoutMS(background bool) int {
	if background {
		return 2000
	}
	return 5000
}

func buildChildEnv(maxNestingLevel int, background bool) []string {
	level := nestLevel() + 1
	env := append(os.Environ(),
		"BACKGROUND=1",
		"NEST_LEVEL="+strconv.Itoa(level),
		"MAX_NESTING_LEVEL="+strconv.Itoa(maxNestingLevel),
		"PARALLEL_WORKER_STDIN_TIMEOUT_MS="+strconv.Itoa(stdinWaitTimeoutMS(background)),
	)
	return env
}
