package relay

import "sync"

// Queue is an unbounded FIFO of envelopes, safe for concurrent use.
// Push never blocks on consumers.
type Queue struct {
	mu    sync.Mutex
	items []Envelope
}

// Push appends env to the tail and returns the new length.
func (q *Queue) Push(env Envelope) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, env)
	return len(q.items)
}

// Pop removes and returns the head.
func (q *Queue) Pop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = Envelope{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return env, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
