package observer

import (
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/fanout/internal/metrics"
)

var (
	// ErrAlreadyRegistered is returned when a (handle, topic) pair is registered twice.
	ErrAlreadyRegistered = errors.New("observer already registered")
	// ErrNotFound is returned when removing a (handle, topic) pair that is not registered.
	ErrNotFound = errors.New("observer not registered")
	// ErrEmptyTopic is returned for the empty topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
	// ErrEmptyFilter is returned for a topic filter that names no topics.
	ErrEmptyFilter = errors.New("filter must name at least one topic")
	// ErrNilHandle is returned when a nil mailbox is passed to a subject or registry.
	ErrNilHandle = errors.New("observer handle is nil")
	// ErrClosed is returned by operations on a closed subject.
	ErrClosed = errors.New("subject closed")

	// ErrHandleClosed means the target mailbox was stopped.
	ErrHandleClosed = errors.New("observer handle closed")
	// ErrStaleHandle means the target mailbox no longer exists.
	ErrStaleHandle = errors.New("observer handle no longer valid")
	// ErrMailboxFull means a drop-newest mailbox rejected the message.
	ErrMailboxFull = errors.New("observer mailbox full")
	// ErrEvicted means a drop-oldest mailbox discarded the queued message to
	// make room for a newer one.
	ErrEvicted = errors.New("message evicted from full mailbox")
)

// DeliveryFailure describes one message that could not be handed to one
// observer. It is reported on the diagnostics stream and never returned to
// the publisher.
type DeliveryFailure struct {
	Subject    string
	Topic      Topic
	HandleID   HandleID
	HandleName string
	MessageID  string
	Seq        uint64
	Cause      error
	At         time.Time
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver message %s (seq %d) on topic %q to %s: %v",
		f.MessageID, f.Seq, f.Topic, f.handleLabel(), f.Cause)
}

// Unwrap returns the cause.
func (f DeliveryFailure) Unwrap() error {
	return f.Cause
}

// Reason returns a short label for the cause, used in metrics and spans.
func (f DeliveryFailure) Reason() string {
	switch {
	case errors.Is(f.Cause, ErrHandleClosed):
		return metrics.ReasonHandleClosed
	case errors.Is(f.Cause, ErrStaleHandle):
		return metrics.ReasonStaleHandle
	case errors.Is(f.Cause, ErrMailboxFull):
		return metrics.ReasonMailboxFull
	case errors.Is(f.Cause, ErrEvicted):
		return metrics.ReasonEvicted
	default:
		return metrics.ReasonOther
	}
}

func (f DeliveryFailure) handleLabel() string {
	if f.HandleName != "" {
		return fmt.Sprintf("%s (%s)", f.HandleName, f.HandleID)
	}
	return string(f.HandleID)
}
