package gateway

import "sync"

// readyQueue is the bounded FIFO of job ids whose objects are all fetched
// and which wait for an idle send worker. A job id is queued at most once.
type readyQueue struct {
	mu     sync.Mutex
	ids    []string
	queued map[string]bool
	limit  int
}

func newReadyQueue(limit int) *readyQueue {
	return &readyQueue{queued: make(map[string]bool), limit: limit}
}

// push appends id. It reports false when id is already queued or the queue
// is full.
func (q *readyQueue) push(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[id] || len(q.ids) >= q.limit {
		return false
	}
	q.ids = append(q.ids, id)
	q.queued[id] = true
	return true
}

func (q *readyQueue) peek() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false
	}
	return q.ids[0], true
}

func (q *readyQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return
	}
	delete(q.queued, q.ids[0])
	q.ids = q.ids[1:]
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func (q *readyQueue) full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids) >= q.limit
}
