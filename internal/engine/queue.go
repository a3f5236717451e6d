package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rennerdo30/heimdall/internal/logging"
)

// DefaultQueueSize is the default task buffer size.
const DefaultQueueSize = 64

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue serializes all engine-affecting calls onto a single worker
// goroutine. The engine contract is non-reentrant, so the queue is the one
// place that guarantees rebinds, resets, and restarts never overlap.
// Submission never blocks the caller.
type Queue struct {
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tasks chan task

	executed atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	logger *logging.Logger
}

// NewQueue creates a call queue with the given buffer size.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		tasks:  make(chan task, size),
		logger: logging.WithComponent("engine-queue"),
	}
}

// Start launches the worker. Idempotent.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return nil
	}
	if q.stopped {
		return ErrQueueStopped
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go q.run(ctx)
	return nil
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.execute(ctx, t)
		}
	}
}

func (q *Queue) execute(ctx context.Context, t task) {
	start := time.Now()
	err := t.fn(ctx)
	elapsed := time.Since(start)

	q.executed.Add(1)
	if err != nil {
		// Failures are recorded, not propagated; the submitting
		// manager tracks its own outcome inside the task closure.
		q.failed.Add(1)
		q.logger.Warn("Engine call failed", "op", t.name, "duration", elapsed, "error", err)
		return
	}
	q.logger.Debug("Engine call done", "op", t.name, "duration", elapsed)
}

// Submit enqueues an engine call without blocking. A full or stopped
// queue returns an error and the call is counted as dropped.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) error {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrQueueStopped
	}
	q.mu.Unlock()

	select {
	case q.tasks <- task{name: name, fn: fn}:
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Warn("Engine call dropped, queue full", "op", name)
		return ErrQueueFull
	}
}

// Stop halts the worker after the current task. Safe without a prior
// Start.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.stopped = true
		q.mu.Unlock()
		return
	}
	q.started = false
	q.stopped = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// QueueStatus is a point-in-time view of the queue.
type QueueStatus struct {
	Running  bool  `json:"running"`
	Pending  int   `json:"pending"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}

// Status returns queue statistics.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	running := q.started && !q.stopped
	q.mu.Unlock()

	return QueueStatus{
		Running:  running,
		Pending:  len(q.tasks),
		Executed: q.executed.Load(),
		Failed:   q.failed.Load(),
		Dropped:  q.dropped.Load(),
	}
}
