// Package statusstore implements the Status & Cancellation Store: one JSON
// file per task in a directory, serving both as observability and, on
// Windows, as the result channel itself (see process.Handle's polling
// reader).
package statusstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
)

// Status mirrors the TaskStatus sum type from SPEC_FULL.md §3.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusReceived   Status = "RECEIVED"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
	StatusTimeout    Status = "TIMEOUT"
	StatusCancelled  Status = "CANCELLED"
	StatusSpawnError Status = "SPAWN_ERROR"
)

// terminal reports whether s is one of the absorbing terminal states.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimeout, StatusCancelled, StatusSpawnError:
		return true
	default:
		return false
	}
}

// Record is the on-disk JSON shape of one task's status, per §3/§6.
type Record struct {
	TaskID    string  `json:"task_id"`
	Status    Status  `json:"status"`
	Message   string  `json:"message,omitempty"`
	PID       int     `json:"pid,omitempty"`
	Timestamp float64 `json:"timestamp"`
	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`

	Duration    float64 `json:"duration,omitempty"`
	MemoryUsage uint64  `json:"memory_usage,omitempty"`
	MemoryPeak  uint64  `json:"memory_peak,omitempty"`

	CallbackType string `json:"callback_type,omitempty"`
	ContextSize  int    `json:"context_size,omitempty"`

	BufferedOutput string `json:"buffered_output,omitempty"`

	Result           json.RawMessage `json:"result,omitempty"`
	ResultSerialized bool            `json:"result_serialized,omitempty"`

	Error      string `json:"error,omitempty"`
	Class      string `json:"class,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Extras carries the optional merge-write fields accepted by Update.
type Extras struct {
	PID              int
	MemoryUsage      uint64
	MemoryPeak       uint64
	BufferedOutput   string
	Result           json.RawMessage
	ResultSerialized bool
	Error            string
	Class            string
	File             string
	Line             int
	StackTrace       string
}

// Store reads and writes Records in Directory. Writes are last-writer-wins
// per record, which is safe because each record has exactly one
// designated writer at any moment: the worker until it exits, then the
// parent's terminate path afterward (§4.7).
type Store struct {
	Directory string

	mu sync.Mutex
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statusstore: creating directory: %w", err)
	}
	return &Store{Directory: dir}, nil
}

func (s *Store) path(taskID string) string {
	return filepath.Join(s.Directory, taskID+".json")
}

// CreateInitial writes a fresh PENDING record for taskID.
func (s *Store) CreateInitial(taskID string, callbackType string, contextSize int) error {
	now := nowUnix()
	rec := Record{
		TaskID:       taskID,
		Status:       StatusPending,
		Timestamp:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
		CallbackType: callbackType,
		ContextSize:  contextSize,
	}
	return s.write(rec)
}

// Update merge-writes a status/message/extras change onto the existing
// record (or a fresh one if none exists yet). created_at, callback_type,
// and context_size are preserved across updates per §4.7.
func (s *Store) Update(taskID string, status Status, message string, extras Extras) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(taskID)
	if err != nil || rec.TaskID == "" {
		// No prior record (e.g. logging was off at spawn time): seed one.
		now := nowUnix()
		rec = Record{TaskID: taskID, CreatedAt: now, Timestamp: now}
	}

	rec.Status = status
	rec.Message = message
	rec.UpdatedAt = nowUnix()
	rec.Timestamp = rec.UpdatedAt
	rec.Duration = rec.UpdatedAt - rec.CreatedAt

	if extras.PID != 0 {
		rec.PID = extras.PID
	}
	if extras.MemoryUsage != 0 {
		rec.MemoryUsage = extras.MemoryUsage
	}
	if extras.MemoryPeak > rec.MemoryPeak {
		rec.MemoryPeak = extras.MemoryPeak
	}
	if extras.BufferedOutput != "" {
		rec.BufferedOutput = extras.BufferedOutput
	}
	if extras.Result != nil {
		rec.Result = extras.Result
		rec.ResultSerialized = extras.ResultSerialized
	}
	if extras.Error != "" {
		rec.Error = extras.Error
		rec.Class = extras.Class
		rec.File = extras.File
		rec.Line = extras.Line
		rec.StackTrace = extras.StackTrace
	}

	return s.writeLocked(rec)
}

// UpdateResourceUsage merge-writes an RSS sample onto taskID's existing
// record without disturbing its status or message, for the Supervisor's
// periodic sampling loop (§4.8). A no-op if the record doesn't exist yet
// (logging was off at spawn time) — resource samples never create a
// record on their own.
func (s *Store) UpdateResourceUsage(taskID string, memUsage, memPeak uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(taskID)
	if err != nil {
		return err
	}
	if rec.TaskID == "" {
		return nil
	}

	rec.MemoryUsage = memUsage
	if memPeak > rec.MemoryPeak {
		rec.MemoryPeak = memPeak
	}
	rec.UpdatedAt = nowUnix()
	return s.writeLocked(rec)
}

// Get reads taskID's record. A missing file returns (nil, nil); a
// malformed file returns parallelerr.ErrCorruptedStatus wrapping the
// parse error.
func (s *Store) Get(taskID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.getLocked(taskID)
	if err != nil {
		return nil, err
	}
	if rec.TaskID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) getLocked(taskID string) (Record, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		mtime := nowUnix()
		if info, statErr := os.Stat(s.path(taskID)); statErr == nil {
			mtime = float64(info.ModTime().Unix())
		}
		msg := fmt.Sprintf("Status file corrupted (mtime=%.0f)", mtime)
		return Record{}, parallelerr.Wrap(parallelerr.KindCorruptedStatus, msg, err)
	}
	return rec, nil
}

// ListAll returns every readable record in the directory, keyed by task
// ID. The map has no defined order; ListAllSorted returns the records
// ordered by Timestamp descending.
func (s *Store) ListAll() (map[string]Record, error) {
	entries, err := os.ReadDir(s.Directory)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		taskID := strings.TrimSuffix(e.Name(), ".json")
		rec, err := s.Get(taskID)
		if err != nil || rec == nil {
			continue
		}
		out[taskID] = *rec
	}
	return out, nil
}

// ListAllSorted is ListAll flattened into a slice ordered by Timestamp
// descending, for callers (e.g. statusctl) that want a stable display
// order rather than map iteration.
func (s *Store) ListAllSorted() ([]Record, error) {
	m, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// Stats is the summary returned by Summarize.
type Stats struct {
	CountByStatus map[Status]int
	MinDuration   float64
	AvgDuration   float64
	MaxDuration   float64
	PeakMemory    uint64
	AvgMemory     float64
}

// Summarize computes per-status counts and memory aggregates across every
// record in the store; the duration aggregates cover terminal records only.
func (s *Store) Summarize() (Stats, error) {
	records, err := s.ListAllSorted()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{CountByStatus: make(map[Status]int)}
	var totalDuration, totalMemory float64
	var durationCount, memoryCount int

	for _, r := range records {
		stats.CountByStatus[r.Status]++

		if r.Status.terminal() {
			if durationCount == 0 || r.Duration < stats.MinDuration {
				stats.MinDuration = r.Duration
			}
			if r.Duration > stats.MaxDuration {
				stats.MaxDuration = r.Duration
			}
			totalDuration += r.Duration
			durationCount++
		}
		if r.MemoryUsage > 0 {
			totalMemory += float64(r.MemoryUsage)
			memoryCount++
		}
		if r.MemoryPeak > stats.PeakMemory {
			stats.PeakMemory = r.MemoryPeak
		}
		if r.MemoryUsage > stats.PeakMemory {
			stats.PeakMemory = r.MemoryUsage
		}
	}

	if durationCount > 0 {
		stats.AvgDuration = totalDuration / float64(durationCount)
	}
	if memoryCount > 0 {
		stats.AvgMemory = totalMemory / float64(memoryCount)
	}
	return stats, nil
}

// Cleanup deletes every record older than maxAge whose status is not
// RUNNING, and removes defer_*.tmp files from tempFilesDir if non-empty.
func (s *Store) Cleanup(maxAge time.Duration, tempFilesDir string) (int, error) {
	records, err := s.ListAllSorted()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	removed := 0
	for _, r := range records {
		if r.Status == StatusRunning {
			continue
		}
		if int64(r.CreatedAt) >= cutoff {
			continue
		}
		if err := os.Remove(s.path(r.TaskID)); err == nil {
			removed++
		}
	}

	if tempFilesDir != "" {
		matches, _ := filepath.Glob(filepath.Join(tempFilesDir, "defer_*.tmp"))
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}

	return removed, nil
}

func (s *Store) write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(rec)
}

func (s *Store) writeLocked(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(rec.TaskID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(rec.TaskID))
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
