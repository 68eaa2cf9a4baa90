package gate

import (
	"sync"

	"github.com/loomworld/canonry/internal/canon"
)

// intakeKind distinguishes queued work items.
type intakeKind int

const (
	// intakeSubmit persists a proposal as pending.
	intakeSubmit intakeKind = iota + 1
	// intakeCanonize triggers a canonization run for a scope.
	intakeCanonize
)

// intakeItem is one unit of work for the service loop.
type intakeItem struct {
	kind     intakeKind
	proposal *canon.Proposal
	scope    string
	done     chan intakeOutcome // buffered, size 1; nil for fire-and-forget
}

// intakeOutcome carries a work item's result back to its submitter.
type intakeOutcome struct {
	result *Result
	err    error
}

// intakeQueue is a thread-safe FIFO for intake items.
//
// The queue is unbounded so bursts of submissions never block producers.
// Producers enqueue from any goroutine; the service's single Run goroutine
// dequeues. The signal channel enables context-aware waiting in the run
// loop.
type intakeQueue struct {
	mu     sync.Mutex
	items  []intakeItem
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups
}

func newIntakeQueue() *intakeQueue {
	return &intakeQueue{
		items:  make([]intakeItem, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Thread-safe. Returns false if the queue is closed.
func (q *intakeQueue) Enqueue(item intakeItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (intakeItem{}, false) if the queue is empty.
func (q *intakeQueue) TryDequeue() (intakeItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return intakeItem{}, false
	}

	item := q.items[0]

	// Nil out the slot so the item's pointers are collectable; the
	// backing array retains references until reallocated otherwise.
	q.items[0] = intakeItem{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// Wait returns a channel that signals when items may be available.
func (q *intakeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *intakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *intakeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
