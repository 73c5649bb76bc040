package recorder

import (
	"sync"

	"github.com/roach88/btdebug/internal/event"
)

// eventQueue is a thread-safe FIFO of events waiting to be written.
//
// The queue is unbounded so a producer never blocks on the database; the
// writer goroutine drains it in batches.
//
// The queue uses a channel for signaling so the writer can wait on it in
// a select alongside its flush ticker.
type eventQueue struct {
	mu     sync.Mutex
	events []event.Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TakeUpTo removes and returns at most n events from the front.
func (q *eventQueue) TakeUpTo(n int) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.events) {
		n = len(q.events)
	}
	if n == 0 {
		return nil
	}
	batch := make([]event.Event, n)
	copy(batch, q.events[:n])

	// Clear the vacated slots so their payloads can be collected.
	clear(q.events[:n])
	if n == len(q.events) {
		q.events = q.events[:0]
	} else {
		q.events = q.events[n:]
	}
	return batch
}

// Wait returns a channel that signals when events may be available. It is
// closed once the queue is closed; a signal pending at that point is still
// received first.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes the writer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
