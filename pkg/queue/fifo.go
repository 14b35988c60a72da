package queue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// FIFO is a thread-safe first-in first-out queue. Frontiers drain it from a
// single goroutine while the progress reporter reads its length.
type FIFO[T any] struct {
	items []T
	head  int
	mu    sync.Mutex
	log   *logrus.Entry
}

// NewFIFO creates an empty queue
func NewFIFO[T any](logger *logrus.Entry) *FIFO[T] {
	return &FIFO[T]{log: logger}
}

// Push appends an item.
func (q *FIFO[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// TryPop removes the oldest item without blocking.
// Returns false when the queue is empty.
func (q *FIFO[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero // release reference
	q.head++

	// Compact once the consumed prefix dominates the backing array
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append([]T(nil), q.items[q.head:]...)
		q.log.Debugf("Compacted queue after %d pops, %d items left", q.head, len(q.items))
		q.head = 0
	}
	return item, true
}

// Len returns the current number of items in the queue (thread-safe)
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
