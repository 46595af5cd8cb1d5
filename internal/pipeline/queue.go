package pipeline

import (
	"sync"

	"github.com/roach88/watchpatch/internal/mutation"
)

// item is one queued mutation with the batch it arrived in.
type item struct {
	batch  string
	result mutation.Result
}

// queue is a thread-safe FIFO of pending mutations.
//
// The queue is unbounded so producers never block on a slow reconciler.
// A buffered signal channel (size 1) lets the Run loop wait with a
// context instead of blocking on a condition variable.
type queue struct {
	mu     sync.Mutex
	items  []item
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

// newQueue creates an empty queue.
func newQueue() *queue {
	return &queue{
		items:  make([]item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds items to the back of the queue in order.
// Returns false if the queue is closed.
func (q *queue) Enqueue(items ...item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, items...)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
// Returns false if the queue is empty.
func (q *queue) TryDequeue() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item{}, false
	}

	it := q.items[0]

	// Nil out the slot so the document can be collected
	q.items[0] = item{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return it, true
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more items will be enqueued.
// Items already queued remain available to TryDequeue.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
