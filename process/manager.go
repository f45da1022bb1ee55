// Package process implements the Process Lifecycle Manager, the Spawn
// Handler, and the parent-side Process Handle / Background Process
// described in SPEC_FULL.md §4.1–§4.5, §4.8.
//
// Grounded on the teacher's internal/cluster package: cluster.Worker's
// Spawn/Wait/Kill lifecycle, its OS-specific process-group handling
// (worker_unix.go/worker_windows.go), and cluster.ClusterManager's
// singleton-with-injection shape are generalized here from a fixed pool
// of long-lived Node/Bun workers into one-shot, per-task child processes.
package process

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
	"github.com/hiblaphp/parallel-sub000/logging"
	"github.com/hiblaphp/parallel-sub000/ratelimit"
	"github.com/hiblaphp/parallel-sub000/registry"
	"github.com/hiblaphp/parallel-sub000/statusstore"
	"github.com/hiblaphp/parallel-sub000/supervisor"
	"github.com/hiblaphp/parallel-sub000/taskid"
)

const (
	// DefaultMaxNestingLevel is used when Config.MaxNestingLevel is zero.
	DefaultMaxNestingLevel = 5
	// HardMaxNestingLevel is the absolute ceiling regardless of configuration.
	HardMaxNestingLevel = 10
	// DefaultSpawnsPerSecond is used when Config.SpawnsPerSecond is zero.
	DefaultSpawnsPerSecond = 50
)

// Config configures a Manager. Zero values fall back to spec defaults.
type Config struct {
	MaxNestingLevel int
	SpawnsPerSecond int
	LoggingEnabled  bool

	WorkerBinary     string // resolved host runtime binary; see ResolveWorkerBinary
	WorkerScriptPath string // argv[1] passed to WorkerBinary

	AutoloadPath       string
	FrameworkBootstrap string
	FrameworkInitCode  string
	MemoryLimit        string
}

// Manager is the central factory described in §4.1. It is safe for
// concurrent use. A process-wide Default() singleton exists for
// convenience; tests should construct their own via New for isolation and
// an explicit Reset.
type Manager struct {
	cfg        Config
	logger     *logging.Logger
	store      *statusstore.Store
	limiter    ratelimit.Limiter
	serial     registry.Serializer
	supervisor *supervisor.Supervisor

	spawnErrorStreak uint32 // circuit-breaker-style guard on background spawns
}

// SetSupervisor attaches a Supervisor the Manager will Track every
// subsequently spawned Handle/BackgroundProcess under, and Untrack once it
// exits. §4.8's memory/CPU enforcement and status-store RSS reporting are
// inert until a Supervisor is attached this way; nil (the default) leaves
// tracking disabled. Not safe to call concurrently with spawns.
func (m *Manager) SetSupervisor(sup *supervisor.Supervisor) {
	m.supervisor = sup
}

// New constructs a Manager with explicit dependencies, for injection and
// tests.
func New(cfg Config, logger *logging.Logger, store *statusstore.Store, limiter ratelimit.Limiter, serial registry.Serializer) *Manager {
	if cfg.MaxNestingLevel <= 0 {
		cfg.MaxNestingLevel = DefaultMaxNestingLevel
	}
	if cfg.MaxNestingLevel > HardMaxNestingLevel {
		cfg.MaxNestingLevel = HardMaxNestingLevel
	}
	if cfg.SpawnsPerSecond <= 0 {
		cfg.SpawnsPerSecond = DefaultSpawnsPerSecond
	}
	if logger == nil {
		logger = logging.Default()
	}
	if limiter == nil {
		limiter = ratelimit.NewFixedWindow(cfg.SpawnsPerSecond)
	}
	return &Manager{cfg: cfg, logger: logger, store: store, limiter: limiter, serial: serial}
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
	defaultManagerMu   sync.Mutex
)

// Default returns the process-wide default Manager, built lazily with
// environment-derived defaults. The Manager is treated as a singleton
// service per SPEC_FULL.md §9; tests that need isolation should call
// ResetDefault or construct their own Manager via New.
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManagerMu.Lock()
		defer defaultManagerMu.Unlock()
		if defaultManager == nil {
			defaultManager = New(Config{}, logging.Default(), nil, nil, registry.NewNamed())
		}
	})
	return defaultManager
}

// ResetDefault replaces the process-wide default Manager — an explicit
// reset hook for tests, per SPEC_FULL.md §9 ("treat it as a process-wide
// service with an explicit reset for tests").
func ResetDefault(m *Manager) {
	defaultManagerMu.Lock()
	defer defaultManagerMu.Unlock()
	defaultManager = m
	defaultManagerOnce.Do(func() {}) // mark Do as having run
}

// nestLevel reads NEST_LEVEL from the environment, defaulting to 0.
func nestLevel() int {
	v := os.Getenv("NEST_LEVEL")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// checkNesting enforces invariant 1 of §4.1: fail if the current nesting
// level has already reached the configured ceiling.
func (m *Manager) checkNesting() error {
	level := nestLevel()
	if level >= m.cfg.MaxNestingLevel {
		return parallelerr.Wrap(parallelerr.KindNestingExceeded,
			fmt.Sprintf("nesting level %d >= max %d", level, m.cfg.MaxNestingLevel), nil)
	}
	return nil
}

// SpawnStreamed spawns callable in a child process and returns a live
// Handle the caller awaits for a result. See §4.1/§4.2/§4.4.
func (m *Manager) SpawnStreamed(ctx context.Context, callback registry.Callable, callbackName string, callbackArg any, timeoutSec int) (*Handle, error) {
	if err := m.checkNesting(); err != nil {
		return nil, err
	}

	id := taskid.New()

	// On Windows the Handle has no pipe-streaming path (§4.4): the status
	// file is its only result channel, so it must be kept regardless of
	// the caller's own LoggingEnabled preference.
	loggingEnabled := m.cfg.LoggingEnabled || runtime.GOOS == "windows"

	var serializedCallback, serializedContext string
	if m.serial != nil {
		named, ok := m.serial.(*registry.Named)
		var err error
		if ok {
			serializedCallback, serializedContext, err = named.SerializeNamed(callbackName, callbackArg)
		} else {
			serializedCallback, serializedContext, err = m.serial.Serialize(callback, callbackArg)
		}
		if err != nil {
			return nil, parallelerr.Wrap(parallelerr.KindSerializeFailed, "serializing callable/context", err)
		}
	}

	if loggingEnabled && m.store != nil {
		_ = m.store.CreateInitial(id, "function", 0)
	}

	handle, err := spawn(spawnParams{
		taskID:             id,
		binary:             m.workerBinary(),
		scriptPath:         m.cfg.WorkerScriptPath,
		background:         false,
		timeoutSec:         timeoutSec,
		loggingEnabled:     loggingEnabled,
		keepStatusFile:     m.cfg.LoggingEnabled,
		statusFile:         m.statusFilePath(id),
		serializedCallback: serializedCallback,
		serializedContext:  serializedContext,
		autoloadPath:       m.cfg.AutoloadPath,
		frameworkBootstrap: m.cfg.FrameworkBootstrap,
		frameworkInitCode:  m.cfg.FrameworkInitCode,
		memoryLimit:        m.cfg.MemoryLimit,
		maxNestingLevel:    m.cfg.MaxNestingLevel,
		logger:             m.logger,
		store:              m.store,
	})
	if err != nil {
		return nil, err
	}

	m.trackWithSupervisor(id, handle, handle.done)

	m.logger.WithTaskID(id).WithPID(handle.PID()).Info("SPAWNED")
	return handle, nil
}

// trackWithSupervisor registers h under the attached Supervisor (if any)
// and arranges for its automatic Untrack once done is closed, so the
// tracked set never outlives the process it samples.
func (m *Manager) trackWithSupervisor(id string, h supervisor.Terminator, done <-chan struct{}) {
	if m.supervisor == nil {
		return
	}
	m.supervisor.Track(id, h)
	go func() {
		<-done
		m.supervisor.Untrack(id)
	}()
}

// SpawnBackground spawns callable fire-and-forget. See §4.1/§4.2/§4.5.
func (m *Manager) SpawnBackground(ctx context.Context, callback registry.Callable, callbackName string, callbackArg any, timeoutSec int) (*BackgroundProcess, error) {
	if err := m.checkNesting(); err != nil {
		return nil, err
	}
	if !m.limiter.Allow() {
		return nil, parallelerr.New(parallelerr.KindRateLimited, "spawn rate limit exceeded")
	}
	if atomic.LoadUint32(&m.spawnErrorStreak) >= 5 {
		return nil, parallelerr.New(parallelerr.KindSpawnFailed, "spawn circuit open after repeated failures")
	}

	id := taskid.New()

	var serializedCallback, serializedContext string
	if m.serial != nil {
		named, ok := m.serial.(*registry.Named)
		var err error
		if ok {
			serializedCallback, serializedContext, err = named.SerializeNamed(callbackName, callbackArg)
		} else {
			serializedCallback, serializedContext, err = m.serial.Serialize(callback, callbackArg)
		}
		if err != nil {
			return nil, parallelerr.Wrap(parallelerr.KindSerializeFailed, "serializing callable/context", err)
		}
	}

	if m.cfg.LoggingEnabled && m.store != nil {
		_ = m.store.CreateInitial(id, "function", 0)
	}

	handle, err := spawn(spawnParams{
		taskID:             id,
		binary:             m.workerBinary(),
		scriptPath:         m.cfg.WorkerScriptPath,
		background:         true,
		timeoutSec:         timeoutSec,
		loggingEnabled:     m.cfg.LoggingEnabled,
		keepStatusFile:     m.cfg.LoggingEnabled,
		statusFile:         m.statusFilePath(id),
		serializedCallback: serializedCallback,
		serializedContext:  serializedContext,
		autoloadPath:       m.cfg.AutoloadPath,
		frameworkBootstrap: m.cfg.FrameworkBootstrap,
		frameworkInitCode:  m.cfg.FrameworkInitCode,
		memoryLimit:        m.cfg.MemoryLimit,
		maxNestingLevel:    m.cfg.MaxNestingLevel,
		logger:             m.logger,
		store:              m.store,
	})
	if err != nil {
		atomic.AddUint32(&m.spawnErrorStreak, 1)
		return nil, err
	}
	atomic.StoreUint32(&m.spawnErrorStreak, 0)

	bg := &BackgroundProcess{taskID: id, pid: handle.PID(), process: handle.osProcess, store: m.store, loggingEnabled: m.cfg.LoggingEnabled, startedAt: time.Now()}
	m.trackWithSupervisor(id, bg, handle.done)

	m.logger.WithTaskID(id).WithPID(handle.PID()).Info("SPAWNED")
	return bg, nil
}

func (m *Manager) workerBinary() string {
	if m.cfg.WorkerBinary != "" {
		return m.cfg.WorkerBinary
	}
	return ResolveWorkerBinary()
}

func (m *Manager) statusFilePath(taskID string) string {
	if m.store == nil {
		return ""
	}
	return m.store.Directory + string(os.PathSeparator) + taskID + ".json"
}
