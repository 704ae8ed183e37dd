// Package fifo provides an unbounded in-memory queue shared by the worker
// pools and publishers.
package fifo

import "sync"

// Queue is an unbounded queue. Push never blocks; Pop blocks until an item
// arrives or stop is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

// NewFIFO creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends item.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes the head of the queue, if any.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Pop waits for an item. It returns false once stop is closed and the
// queue is empty.
func (q *Queue[T]) Pop(stop <-chan struct{}) (T, bool) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}
		select {
		case <-q.signal:
		case <-stop:
			var zero T
			return zero, false
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
