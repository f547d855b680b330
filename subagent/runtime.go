package subagent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runtime executes subagent runs on a bounded background worker pool. Each
// job gets its own cancellable context (with an optional deadline); Cancel
// trips it, and queued jobs waiting for a worker abort immediately.
type Runtime struct {
	sem *semaphore.Weighted

	mu   sync.Mutex
	jobs map[string]*job
}

// NewRuntime builds a pool with the given worker cap.
func NewRuntime(maxWorkers int) *Runtime {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Runtime{
		sem:  semaphore.NewWeighted(int64(maxWorkers)),
		jobs: map[string]*job{},
	}
}

// Submit schedules fn for the run. Any in-flight job for the same run id is
// cancelled first. timeout of 0 disables the deadline. fn observes queueing,
// cancellation and timeout through its context; it must inspect ctx.Err()
// on return to distinguish cancellation from timeout.
func (r *Runtime) Submit(runID string, timeout time.Duration, fn func(ctx context.Context)) {
	r.Cancel(runID)

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	j := &job{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.jobs[runID] = j
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(j.done)
			r.mu.Lock()
			if r.jobs[runID] == j {
				delete(r.jobs, runID)
			}
			r.mu.Unlock()
		}()

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// Cancelled or timed out while queued; fn still runs so it can
			// record the terminal state from ctx.Err().
			fn(ctx)
			return
		}
		defer r.sem.Release(1)
		fn(ctx)
	}()
}

// Cancel trips the run's context. It reports whether a job was in flight.
// Idempotent: cancelling an unknown or finished run returns false.
func (r *Runtime) Cancel(runID string) bool {
	r.mu.Lock()
	j, ok := r.jobs[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	j.cancel()
	return true
}

// IsRunning reports whether a job for the run is queued or executing.
func (r *Runtime) IsRunning(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[runID]
	return ok
}

// Join blocks until the run's job completes, or ctx is cancelled. Joining a
// run with no in-flight job returns immediately.
func (r *Runtime) Join(ctx context.Context, runID string) error {
	r.mu.Lock()
	j, ok := r.jobs[runID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
