package hooks

import "sync"

// batchQueue buffers events for a single consumer, which takes every
// pending event at once. Producers never block.
type batchQueue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool
	// ready holds at most one wake-up token and is closed with the queue.
	ready chan struct{}
}

func newBatchQueue() *batchQueue {
	return &batchQueue{ready: make(chan struct{}, 1)}
}

// put appends ev and wakes the consumer. It reports false once the queue
// is closed.
func (q *batchQueue) put(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, ev)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// take removes and returns all pending events in arrival order, and
// whether the queue has been closed.
func (q *batchQueue) take() ([]Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch, q.closed
}

func (q *batchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *batchQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
}
