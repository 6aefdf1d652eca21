// Package offload provides the bounded in-process queue that keeps
// low-priority write-through inserts off the hot read path.
//
// The queue is intentionally bounded and enqueuing never blocks: items are
// best-effort cache warms, not durable writes, so a full queue drops the
// item instead of back-pressuring the resolver.
package offload

import (
	"context"

	"github.com/devhw/tgcdn/internal/logger"
)

// DefaultCapacity bounds the number of pending warm tasks.
const DefaultCapacity = 256

// Task is one deferred write. Errors are logged and discarded by the
// drainer; a task must not assume it will ever run.
type Task func(ctx context.Context) error

// Queue is a bounded FIFO of deferred writes drained by a single task.
type Queue struct {
	ch      chan Task
	dropped func() // metrics hook, may be nil
}

// New creates a queue with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan Task, capacity)}
}

// OnDrop registers a callback invoked once per dropped task.
func (q *Queue) OnDrop(fn func()) {
	q.dropped = fn
}

// TryEnqueue offers a task without blocking. It reports false when the
// queue is full and the task was dropped.
func (q *Queue) TryEnqueue(task Task) bool {
	select {
	case q.ch <- task:
		return true
	default:
		if q.dropped != nil {
			q.dropped()
		}
		return false
	}
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run drains the queue until the context is cancelled. Each task runs to
// completion on its own; failures are logged and discarded.
func (q *Queue) Run(ctx context.Context) {
	logger.Debug("offload drainer started", "capacity", cap(q.ch))
	for {
		select {
		case <-ctx.Done():
			logger.Debug("offload drainer stopping", "pending", len(q.ch))
			return
		case task := <-q.ch:
			if err := task(ctx); err != nil {
				logger.Warn("offload task failed", "error", err)
			}
		}
	}
}
