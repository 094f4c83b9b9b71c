package call

import "sync"

// taskQueue is an unbounded FIFO of closures for the event loop. Push never
// blocks, so pion callbacks and timers can post from any goroutine.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
	ready chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

func (q *taskQueue) Push(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled when tasks may be waiting.
func (q *taskQueue) Ready() <-chan struct{} {
	return q.ready
}

// Drain takes every queued task.
func (q *taskQueue) Drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks
}
