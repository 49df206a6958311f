package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder[T any] struct {
	mu   sync.Mutex
	msgs []Message[T]
}

func (r *recorder[T]) HandleNotification(_ context.Context, msg Message[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder[T]) messages() []Message[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message[T], len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder[T]) payloads() []T {
	msgs := r.messages()
	out := make([]T, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload
	}
	return out
}

// spawn starts a mailbox that is stopped and awaited when the test ends.
func spawn[T any](t *testing.T, obs Observer[T], opts ...MailboxOption) *Mailbox[T] {
	t.Helper()
	m := Spawn(context.Background(), obs, opts...)
	t.Cleanup(func() {
		m.Stop()
		<-m.Done()
	})
	return m
}

func waitIdle[T any](t *testing.T, boxes ...*Mailbox[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, b := range boxes {
		require.NoError(t, b.WaitIdle(ctx), "mailbox %s never drained", b)
	}
}

func waitCount[T any](t *testing.T, r *recorder[T], n int) []Message[T] {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.messages()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return r.messages()
}
