package observers

import (
	"context"
	"sync"

	"github.com/zjrosen/fanout/internal/observer"
)

// Recorder keeps every message it is handed.
type Recorder[T any] struct {
	mu      sync.Mutex
	msgs    []observer.Message[T]
	changed chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{changed: make(chan struct{})}
}

func (r *Recorder[T]) HandleNotification(_ context.Context, msg observer.Message[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder[T]) Messages() []observer.Message[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observer.Message[T], len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Payloads returns the recorded payloads in arrival order.
func (r *Recorder[T]) Payloads() []T {
	msgs := r.Messages()
	out := make([]T, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload
	}
	return out
}

// Len returns the number of recorded messages.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// WaitFor blocks until at least n messages were recorded or ctx is done.
func (r *Recorder[T]) WaitFor(ctx context.Context, n int) error {
	for {
		r.mu.Lock()
		count, changed := len(r.msgs), r.changed
		r.mu.Unlock()
		if count >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset discards everything recorded.
func (r *Recorder[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
