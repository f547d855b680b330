// Package lane serializes work per session while bounding global
// concurrency. Each session id maps to a lane that executes at most one work
// item at a time, in submission order; a global semaphore caps how many
// lanes may be active simultaneously.
package lane

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the global cap applied when none is configured.
const DefaultMaxConcurrent = 4

// Metrics reports how long a work item waited for its slot and how long it
// ran.
type Metrics struct {
	Wait time.Duration
	Run  time.Duration
}

// Queue is the process-wide lane scheduler. Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*laneState
	global *semaphore.Weighted
}

type laneState struct {
	busy    bool
	waiters []chan struct{}
}

// NewQueue builds a queue with the given global concurrency cap.
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Queue{
		lanes:  map[string]*laneState{},
		global: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Handle resolves when a submitted work item completes.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the work item finishes (or was cancelled while queued)
// and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Run executes fn under the lane discipline, blocking until completion.
// Two Run calls for the same lane id execute in call order; a queued call
// whose ctx is cancelled before it starts is removed silently and returns
// the context error. onMetrics, when set, receives wait/run durations after
// fn returns.
func (q *Queue) Run(ctx context.Context, laneID string, fn func() error, onMetrics func(Metrics)) error {
	return q.Submit(ctx, laneID, fn, onMetrics).Wait()
}

// Submit enqueues fn on the lane and returns a handle resolving when it
// completes. The FIFO position is taken synchronously, so two Submit calls
// observe each other's order.
func (q *Queue) Submit(ctx context.Context, laneID string, fn func() error, onMetrics func(Metrics)) *Handle {
	h := &Handle{done: make(chan struct{})}
	queuedAt := time.Now()
	ticket := q.enqueue(laneID)

	go func() {
		defer close(h.done)

		if ticket != nil {
			select {
			case <-ticket:
			case <-ctx.Done():
				q.abandon(laneID, ticket)
				h.err = ctx.Err()
				return
			}
		}
		if err := q.global.Acquire(ctx, 1); err != nil {
			q.releaseLane(laneID)
			h.err = err
			return
		}
		startedAt := time.Now()

		func() {
			defer func() {
				q.global.Release(1)
				q.releaseLane(laneID)
			}()
			h.err = fn()
		}()

		if onMetrics != nil {
			onMetrics(Metrics{Wait: startedAt.Sub(queuedAt), Run: time.Since(startedAt)})
		}
	}()

	return h
}

// enqueue takes the lane token immediately when the lane is idle (returns
// nil) or appends a FIFO ticket the caller must wait on.
func (q *Queue) enqueue(laneID string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ls, ok := q.lanes[laneID]
	if !ok {
		ls = &laneState{}
		q.lanes[laneID] = ls
	}
	if !ls.busy && len(ls.waiters) == 0 {
		ls.busy = true
		return nil
	}
	ticket := make(chan struct{})
	ls.waiters = append(ls.waiters, ticket)
	return ticket
}

// abandon removes a still-queued ticket; if the ticket was granted in the
// meantime the lane is handed on instead.
func (q *Queue) abandon(laneID string, ticket chan struct{}) {
	q.mu.Lock()
	ls := q.lanes[laneID]
	if ls != nil {
		for i, w := range ls.waiters {
			if w == ticket {
				ls.waiters = append(ls.waiters[:i], ls.waiters[i+1:]...)
				q.mu.Unlock()
				return
			}
		}
	}
	q.mu.Unlock()
	q.releaseLane(laneID)
}

// releaseLane passes the token to the next FIFO waiter or marks the lane
// idle.
func (q *Queue) releaseLane(laneID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ls, ok := q.lanes[laneID]
	if !ok {
		return
	}
	if len(ls.waiters) > 0 {
		next := ls.waiters[0]
		ls.waiters = ls.waiters[1:]
		close(next)
		return
	}
	ls.busy = false
}
