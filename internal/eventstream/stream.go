package eventstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the per-listener buffer used by NewStream.
const DefaultBufferSize = 64

// Stream broadcasts events to every listener. Emit never blocks: when a
// listener's buffer is full the event is dropped for that listener only.
type Stream[T any] struct {
	mu         sync.RWMutex
	listeners  map[chan Event[T]]struct{}
	done       chan struct{}
	bufferSize int
	dropped    atomic.Uint64
}

// NewStream creates a stream with DefaultBufferSize.
func NewStream[T any]() *Stream[T] {
	return NewStreamWithBuffer[T](DefaultBufferSize)
}

// NewStreamWithBuffer creates a stream with a custom per-listener buffer.
// Sizes below 1 fall back to DefaultBufferSize.
func NewStreamWithBuffer[T any](size int) *Stream[T] {
	if size < 1 {
		size = DefaultBufferSize
	}
	return &Stream[T]{
		listeners:  make(map[chan Event[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Listen returns a channel receiving every event emitted after the call.
// The channel is closed when ctx is cancelled or the stream is closed.
func (s *Stream[T]) Listen(ctx context.Context) <-chan Event[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	ch := make(chan Event[T], s.bufferSize)
	s.listeners[ch] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[ch]; !ok {
			return
		}
		delete(s.listeners, ch)
		close(ch)
	}()

	return ch
}

// Emit broadcasts an event to all current listeners.
func (s *Stream[T]) Emit(kind Kind, payload T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.done:
		return
	default:
	}

	event := Event[T]{
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for ch := range s.listeners {
		select {
		case ch <- event:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close closes every listener channel. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	close(s.done)
	for ch := range s.listeners {
		close(ch)
	}
	s.listeners = make(map[chan Event[T]]struct{})
}

// ListenerCount returns the number of active listeners.
func (s *Stream[T]) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Dropped returns how many per-listener sends were skipped because a buffer was full.
func (s *Stream[T]) Dropped() uint64 {
	return s.dropped.Load()
}
