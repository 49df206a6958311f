// Package observer implements an in-process observer / publish-subscribe core.
//
// A Subject owns a Registry mapping topics to observer mailboxes. Publish
// snapshots the mailboxes registered for the topic and for the all-topics
// bucket, then enqueues a copy of the message into each one without waiting.
// Every Mailbox runs its Observer on its own goroutine, so a slow or failing
// observer only affects its own queue.
//
// Ordering: messages published by one goroutine are handled by each observer
// in publish order. Nothing is promised across publishers, across topics, or
// for subscriptions racing an in-flight publish.
package observer

import "context"

// Observer reacts to delivered messages. Errors are logged and counted by
// the mailbox; they never reach the publisher.
type Observer[T any] interface {
	HandleNotification(ctx context.Context, msg Message[T]) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc[T any] func(ctx context.Context, msg Message[T]) error

// HandleNotification calls f.
func (f ObserverFunc[T]) HandleNotification(ctx context.Context, msg Message[T]) error {
	return f(ctx, msg)
}
