// Package pool implements the Process Pool: a bounded-concurrency
// scheduler over the Process Lifecycle Manager, described in
// SPEC_FULL.md §4.6 as "the deepest algorithmic component".
//
// The spec's reference model is a single cooperative event loop; this
// module expresses the same refill/wait/cancel algorithm with one
// coordinator goroutine and one result-reporting goroutine per running
// task, which is the idiomatic Go shape for "bounded fan-out, collect as
// they finish" — the same shape as the teacher's
// internal/cluster/manager.go worker-assignment loop, scaled from a
// fixed pool of long-lived workers down to one goroutine per in-flight
// task.
package pool

import (
	"context"
	"sync"

	parallelerr "github.com/hiblaphp/parallel-sub000/errors"
	"github.com/hiblaphp/parallel-sub000/process"
	"github.com/hiblaphp/parallel-sub000/registry"
)

// DefaultMaxConcurrency is used when Pool.maxConcurrency is zero.
const DefaultMaxConcurrency = 8

// Task is one unit of work submitted to the Pool, keyed by K so results
// can be matched back to callers regardless of completion order.
type Task[K comparable] struct {
	Key          K
	Callback     registry.Callable
	CallbackName string
	Arg          any
	TimeoutSec   int
}

// Pool runs a batch of Tasks against a process.Manager with at most
// maxConcurrency spawned at once.
type Pool[K comparable] struct {
	manager        *process.Manager
	maxConcurrency int
}

// New constructs a Pool. maxConcurrency <= 0 falls back to
// DefaultMaxConcurrency.
func New[K comparable](manager *process.Manager, maxConcurrency int) *Pool[K] {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Pool[K]{manager: manager, maxConcurrency: maxConcurrency}
}

type resultMsg[K comparable] struct {
	key     K
	outcome process.Outcome
}

// Run executes tasks and rejects on the first task failure, per §4.6's
// "rejecting" algorithm: every other still-running handle is terminated,
// queued-but-unstarted tasks are dropped, and the first failure's reason
// is returned.
func (p *Pool[K]) Run(ctx context.Context, tasks []Task[K]) (map[K]any, error) {
	outcomes, err := p.runInternal(ctx, tasks, true)
	if err != nil {
		return nil, err
	}
	out := make(map[K]any, len(outcomes))
	for k, o := range outcomes {
		out[k] = o.Value
	}
	return out, nil
}

// RunSettled executes tasks and never rejects on a task error: every key
// resolves to an Outcome, Fulfilled or not. It only returns a top-level
// error for cancellation or an infrastructure failure that prevented
// scheduling from running at all.
func (p *Pool[K]) RunSettled(ctx context.Context, tasks []Task[K]) (map[K]process.Outcome, error) {
	return p.runInternal(ctx, tasks, false)
}

// runInternal is the shared scaffolding of §4.6's rejecting and settled
// algorithms; rejectOnFailure selects which one.
//
// running tracks only handles that have actually been obtained from
// SpawnStreamed (so terminateAllRunning never touches a nil handle);
// inFlight counts every task that has been popped off the queue but has
// not yet reported a result, and is what the maxConcurrency bound is
// enforced against, since a task between "popped" and "handle obtained"
// still occupies a concurrency slot.
func (p *Pool[K]) runInternal(ctx context.Context, tasks []Task[K], rejectOnFailure bool) (map[K]process.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	queued := make([]Task[K], len(tasks))
	copy(queued, tasks)

	running := make(map[K]*process.Handle)
	completed := make(map[K]process.Outcome, len(tasks))
	results := make(chan resultMsg[K])

	var mu sync.Mutex // guards running, for Terminate calls racing spawnNext's handle registration
	var firstFailure error
	cancelled := false
	inFlight := 0

	spawnNext := func(t Task[K]) {
		handle, err := p.manager.SpawnStreamed(ctx, t.Callback, t.CallbackName, t.Arg, t.TimeoutSec)
		if err != nil {
			results <- resultMsg[K]{key: t.Key, outcome: process.Outcome{Fulfilled: false, Reason: err}}
			return
		}

		mu.Lock()
		if cancelled {
			mu.Unlock()
			_ = handle.Terminate()
			results <- resultMsg[K]{key: t.Key, outcome: process.Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindCancelled, "task was cancelled")}}
			return
		}
		running[t.Key] = handle
		mu.Unlock()

		outcome := handle.GetResult(t.TimeoutSec)
		results <- resultMsg[K]{key: t.Key, outcome: outcome}
	}

	terminateAllRunning := func() {
		mu.Lock()
		handles := make([]*process.Handle, 0, len(running))
		for k, h := range running {
			handles = append(handles, h)
			delete(running, k)
		}
		cancelled = true
		mu.Unlock()
		for _, h := range handles {
			_ = h.Terminate()
		}
	}

	refill := func() {
		for len(queued) > 0 && inFlight < p.maxConcurrency {
			t := queued[0]
			queued = queued[1:]
			inFlight++
			go spawnNext(t)
		}
	}

	refill()

	for inFlight > 0 || len(queued) > 0 {
		select {
		case <-ctx.Done():
			if firstFailure == nil {
				firstFailure = parallelerr.New(parallelerr.KindPoolCancelled, "pool run was cancelled")
			}
			terminateAllRunning()
			for _, t := range queued {
				completed[t.Key] = process.Outcome{Fulfilled: false, Reason: parallelerr.New(parallelerr.KindCancelled, "task was cancelled before it started")}
			}
			queued = nil
			// inFlight tasks already spawned still report through results;
			// the loop condition below keeps draining until they all do.

		case r := <-results:
			inFlight--
			completed[r.key] = r.outcome

			if !r.outcome.Fulfilled && rejectOnFailure && firstFailure == nil {
				firstFailure = r.outcome.Reason
				terminateAllRunning()
				queued = nil
			}

			if !cancelled {
				refill()
			}
		}
	}

	if rejectOnFailure && firstFailure != nil {
		return nil, firstFailure
	}
	if cancelled && !rejectOnFailure && ctx.Err() != nil {
		return completed, firstFailure
	}
	return completed, nil
}
