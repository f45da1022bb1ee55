// Package supervisor implements the optional memory/CPU enforcement
// loop described in SPEC_FULL.md §4.8: a background goroutine that
// periodically samples every tracked child process via gopsutil and
// terminates (or just warns about) processes that exceed configured
// limits.
//
// Grounded on the teacher's internal/cluster/manager.go monitorLoop,
// which does the identical memory/CPU sampling and threshold
// comparison for a fixed pool of long-lived Node/Bun workers; this
// package generalizes it to an open set of tracked one-shot task
// processes that register and unregister themselves as they spawn and
// exit.
package supervisor

import (
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"

	"github.com/hiblaphp/parallel-sub000/logging"
	"github.com/hiblaphp/parallel-sub000/statusstore"
)

// Terminator is satisfied by process.Handle and process.BackgroundProcess;
// Supervisor depends on this narrow interface rather than the process
// package directly, so it can track either kind of handle without an
// import cycle.
type Terminator interface {
	PID() int
	IsRunning() bool
	Terminate() error
}

// Config controls Supervisor's sampling cadence and limits.
type Config struct {
	EnforceHardLimits bool
	MaxMemoryBytes    uint64
	MaxCPUPercent     int
	CheckInterval     time.Duration
}

// Supervisor periodically samples tracked processes and enforces
// Config's limits. It is safe for concurrent use; Track/Untrack may be
// called from any goroutine while the loop runs.
type Supervisor struct {
	cfg    Config
	logger *logging.Logger
	store  *statusstore.Store // optional: feeds memory_usage/memory_peak back into the task's record

	mu      sync.Mutex
	tracked map[string]Terminator // taskID -> handle

	stop chan struct{}
	done chan struct{}
}

// New constructs a Supervisor. A zero CheckInterval defaults to 5s,
// matching the teacher's own fallback. store may be nil, in which case
// sampled RSS readings are used for limit enforcement only and never
// persisted.
func New(cfg Config, logger *logging.Logger, store *statusstore.Store) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		tracked: make(map[string]Terminator),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Track registers a handle for periodic sampling under taskID.
func (s *Supervisor) Track(taskID string, h Terminator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[taskID] = h
}

// Untrack removes taskID from sampling, typically once its task has
// resolved.
func (s *Supervisor) Untrack(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, taskID)
}

// Tracked reports whether taskID is currently registered for sampling.
func (s *Supervisor) Tracked(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[taskID]
	return ok
}

// Start launches the sampling loop in a background goroutine. Calling
// Start more than once without an intervening Stop is a programming
// error; callers own exactly one Supervisor per engine instance.
func (s *Supervisor) Start() {
	go s.loop()
}

// Stop halts the sampling loop and waits for it to exit.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Supervisor) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

// sampleOnce snapshots the tracked set and checks each live process's
// memory/CPU against configured limits, mirroring monitorLoop's
// per-worker inner loop.
func (s *Supervisor) sampleOnce() {
	s.mu.Lock()
	snapshot := make(map[string]Terminator, len(s.tracked))
	for id, h := range s.tracked {
		snapshot[id] = h
	}
	s.mu.Unlock()

	for taskID, h := range snapshot {
		if !h.IsRunning() {
			s.Untrack(taskID)
			continue
		}

		p, err := gopsproc.NewProcess(int32(h.PID()))
		if err != nil {
			continue
		}

		mem, memErr := p.MemoryInfo()
		if memErr == nil && s.store != nil {
			_ = s.store.UpdateResourceUsage(taskID, mem.RSS, mem.RSS)
		}

		if memErr == nil && s.cfg.MaxMemoryBytes > 0 && mem.RSS > s.cfg.MaxMemoryBytes {
			if s.cfg.EnforceHardLimits {
				s.logger.WithTaskID(taskID).WithPID(h.PID()).Warn("task exceeded memory limit, terminating")
				_ = h.Terminate()
				s.Untrack(taskID)
				continue
			}
			s.logger.WithTaskID(taskID).WithPID(h.PID()).Warn("task near memory limit")
		}

		if cpuPerc, err := p.CPUPercent(); err == nil && s.cfg.MaxCPUPercent > 0 && int(cpuPerc) > s.cfg.MaxCPUPercent {
			if s.cfg.EnforceHardLimits {
				s.logger.WithTaskID(taskID).WithPID(h.PID()).Warn("task exceeded CPU limit, terminating")
				_ = h.Terminate()
				s.Untrack(taskID)
				continue
			}
			s.logger.WithTaskID(taskID).WithPID(h.PID()).Warn("task near CPU limit")
		}
	}
}
