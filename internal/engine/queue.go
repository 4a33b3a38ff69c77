package engine

import (
	"context"
	"sync"

	"github.com/roach88/kinrule/internal/ir"
	"github.com/roach88/kinrule/internal/rules"
)

// job is one unit of work for the Run loop: either an envelope to dispatch
// or a rule set to install.
type job struct {
	ctx    context.Context
	env    *ir.Envelope
	reload []rules.Rule
	reply  chan jobResult // Buffered, size 1
}

type jobResult struct {
	result *Result
	err    error
}

// jobQueue is a thread-safe FIFO queue feeding the single-writer loop.
//
// Submit is called from many goroutines (HTTP handlers) while Run dequeues.
// The queue uses a channel for signaling to enable context-aware waiting in
// the Run loop.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	// Non-blocking; the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]

	// Release the slot so the envelope can be collected.
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that signals when jobs may be available.
// The channel is closed when the queue is closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting jobs and wakes any waiter.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued job. Used after Close so pending
// submitters can be answered.
func (q *jobQueue) Drain() []job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.jobs
	q.jobs = nil
	return jobs
}
