package engine

import "sync"

// readyQueue is a thread-safe FIFO of executor names waiting to run.
//
// A name is queued at most once: waking an executor that is already queued
// is a no-op, so a burst of change notifications for one table costs one
// Execute.
//
// Sources call Enqueue from any goroutine; only the Dispatcher's Run loop
// dequeues. The signal channel lets Run wait on it alongside ctx.Done() and
// its timers.
type readyQueue struct {
	mu     sync.Mutex
	names  []string
	queued map[string]struct{}
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		queued: make(map[string]struct{}),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds name to the back of the queue unless it is already queued.
// Returns false if the queue is closed.
func (q *readyQueue) Enqueue(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.queued[name]; !ok {
		q.queued[name] = struct{}{}
		q.names = append(q.names, name)
	}

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front name without blocking.
func (q *readyQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.names) == 0 {
		return "", false
	}
	name := q.names[0]
	if len(q.names) == 1 {
		q.names = q.names[:0]
	} else {
		q.names = q.names[1:]
	}
	delete(q.queued, name)
	return name, true
}

// Wait returns a channel that signals when names may be available.
func (q *readyQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued names.
func (q *readyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.names)
}

// Close stops further enqueues and wakes any waiter.
func (q *readyQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
