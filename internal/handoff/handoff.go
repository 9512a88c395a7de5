// File: internal/handoff/handoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package handoff carries ownership of newly accepted descriptors from the
// acceptor to a worker. It is the sole cross-thread synchronization point in
// the steady state: a bounded FIFO guarded by a mutex, with eapache/queue
// providing the ring storage (the queue itself is not thread-safe).

package handoff

import (
	"sync"

	"github.com/eapache/queue"
)

// Queue is a bounded multi-producer FIFO. Push reports false when the bound
// is reached; the producer decides the overflow policy.
type Queue[T any] struct {
	mu    sync.Mutex
	ring  *queue.Queue
	bound int
}

// New creates a queue holding at most bound items.
func New[T any](bound int) *Queue[T] {
	if bound <= 0 {
		bound = 1
	}
	return &Queue[T]{ring: queue.New(), bound: bound}
}

// Push enqueues v, reporting false when the queue is full.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Length() >= q.bound {
		return false
	}
	q.ring.Add(v)
	return true
}

// Pop dequeues the oldest item, reporting false when empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.ring.Remove().(T), true
}

// Len returns the current item count.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}
