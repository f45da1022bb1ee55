package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow is the default, single-instance Limiter: a mutex-guarded
// counter and a last-reset timestamp. The window resets the instant
// time.Since(lastReset) >= 1 second, which is the spec's literal
// algorithm — not a smoothed/leaky rate, an exact edge.
type FixedWindow struct {
	limit int

	mu        sync.Mutex
	count     int
	lastReset time.Time
}

// NewFixedWindow returns a FixedWindow allowing up to limit spawns per
// rolling one-second window.
func NewFixedWindow(limit int) *FixedWindow {
	return &FixedWindow{limit: limit, lastReset: time.Now()}
}

// Allow implements Limiter.
func (f *FixedWindow) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.lastReset) >= time.Second {
		f.count = 0
		f.lastReset = time.Now()
	}

	if f.count >= f.limit {
		return false
	}
	f.count++
	return true
}

// Count returns the number of spawns consumed in the current window,
// primarily for tests.
func (f *FixedWindow) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
