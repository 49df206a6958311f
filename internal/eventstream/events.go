// Package eventstream provides a typed, lossy broadcast stream for side-channel
// events such as delivery failures and log entries.
package eventstream

import (
	"context"
	"time"
)

// Kind classifies an event on a stream.
type Kind string

const (
	// KindDeliveryFailed marks an event carrying a failed delivery.
	KindDeliveryFailed Kind = "delivery_failed"
	// KindDropped marks an event carrying a message evicted from a full
	// drop-oldest mailbox.
	KindDropped Kind = "dropped"
	// KindLogEntry marks a formatted log line.
	KindLogEntry Kind = "log_entry"
)

// Event is a single item broadcast on a Stream.
type Event[T any] struct {
	Kind      Kind
	Payload   T
	Timestamp time.Time
}

// Source hands out listener channels.
type Source[T any] interface {
	Listen(ctx context.Context) <-chan Event[T]
}

// Sink accepts events for broadcast.
type Sink[T any] interface {
	Emit(kind Kind, payload T)
}
