// Package queue provides a thread-safe bounded FIFO with an overflow policy.
// It backs every observer mailbox.
package queue

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxSize is the capacity used when a negative size is requested.
const DefaultMaxSize = 256

// Unbounded disables the capacity limit.
const Unbounded = 0

// ErrQueueFull is returned when a DropNewest queue rejects an entry.
var ErrQueueFull = errors.New("queue is full")

// Policy decides what happens when Enqueue hits the capacity limit.
type Policy string

const (
	// DropOldest evicts the head to make room for the new entry.
	DropOldest Policy = "drop-oldest"
	// DropNewest rejects the new entry.
	DropNewest Policy = "drop-newest"
)

// ParsePolicy validates a policy name. The empty string selects DropOldest.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", DropOldest:
		return DropOldest, nil
	case DropNewest:
		return DropNewest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q (must be %q or %q)", s, DropOldest, DropNewest)
	}
}

// Queue is a thread-safe FIFO of T.
type Queue[T any] struct {
	entries []T
	mu      sync.Mutex
	maxSize int
	policy  Policy
	dropped uint64
}

// New creates a Queue. maxSize of Unbounded (0) removes the limit; a
// negative maxSize selects DefaultMaxSize. An empty policy means DropOldest.
func New[T any](maxSize int, policy Policy) *Queue[T] {
	if maxSize < 0 {
		maxSize = DefaultMaxSize
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Queue[T]{
		entries: make([]T, 0),
		maxSize: maxSize,
		policy:  policy,
	}
}

// Enqueue appends v to the back of the queue.
// When the queue is full, DropNewest rejects v with ErrQueueFull and
// DropOldest evicts the head and returns it with wasEvicted set.
func (q *Queue[T]) Enqueue(v T) (evicted T, wasEvicted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize != Unbounded && len(q.entries) >= q.maxSize {
		q.dropped++
		if q.policy == DropNewest {
			return evicted, false, ErrQueueFull
		}
		evicted = q.popLocked()
		wasEvicted = true
	}

	q.entries = append(q.entries, v)
	return evicted, wasEvicted, nil
}

// Dequeue removes and returns the entry at the front of the queue.
// Returns (zero value, false) if the queue is empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.entries[0]
	q.entries[0] = zero
	q.entries = q.entries[1:]
	return v
}

// Peek returns the entry at the front without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		var zero T
		return zero, false
	}
	return q.entries[0], true
}

// Drain removes and returns every queued entry in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = make([]T, 0)
	return out
}

// Len returns the current number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Cap returns the capacity limit, or Unbounded.
func (q *Queue[T]) Cap() int {
	return q.maxSize
}

// Policy returns the overflow policy.
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Dropped returns how many entries were evicted or rejected.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}
