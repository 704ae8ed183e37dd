package transfer

import "sync"

// RoundRobin hands out worker indexes 0..size-1 in rotation.
type RoundRobin struct {
	mu   sync.Mutex
	next int
	size int
}

// NewRoundRobin creates a scheduler over size workers. size must be > 0.
func NewRoundRobin(size int) *RoundRobin {
	if size <= 0 {
		size = 1
	}
	return &RoundRobin{size: size}
}

// Next returns the next worker index.
func (r *RoundRobin) Next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next
	r.next = (r.next + 1) % r.size
	return i
}

// Size returns the number of workers scheduled over.
func (r *RoundRobin) Size() int {
	return r.size
}
