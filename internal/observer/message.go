package observer

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Topic names a channel of related messages.
type Topic string

// Validate rejects the empty topic.
func (t Topic) Validate() error {
	if t == "" {
		return ErrEmptyTopic
	}
	return nil
}

// HandleID identifies one observer mailbox.
type HandleID string

// NewHandleID returns a fresh random HandleID.
func NewHandleID() HandleID {
	return HandleID(uuid.NewString())
}

// Message is one published value. Each observer receives its own copy.
type Message[T any] struct {
	ID        string
	Seq       uint64 // per-subject publish sequence, assigned at dispatch
	Topic     Topic
	Payload   T
	Timestamp time.Time
}

// NewMessage builds a Message stamped with a fresh ID and the current time.
func NewMessage[T any](topic Topic, payload T) (Message[T], error) {
	if err := topic.Validate(); err != nil {
		return Message[T]{}, err
	}
	return Message[T]{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}, nil
}

// Cloner is implemented by payloads that hold references. The dispatcher
// hands each observer the result of Clone instead of sharing the original.
type Cloner[T any] interface {
	Clone() T
}

func copyPayload[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// Change is the payload published by a StateSubject.
type Change[T any] struct {
	Old    T
	New    T
	HadOld bool // false for the first value seen on a topic
}

// Filter selects which topics a subscription covers.
type Filter struct {
	all    bool
	topics []Topic
}

// All matches every topic.
func All() Filter {
	return Filter{all: true}
}

// Topics matches the listed topics. Duplicates are collapsed.
func Topics(topics ...Topic) Filter {
	uniq := make([]Topic, 0, len(topics))
	for _, t := range topics {
		if !slices.Contains(uniq, t) {
			uniq = append(uniq, t)
		}
	}
	return Filter{topics: uniq}
}

// IsAll reports whether the filter matches every topic.
func (f Filter) IsAll() bool {
	return f.all
}

// List returns the explicit topics, or nil for All.
func (f Filter) List() []Topic {
	if f.all {
		return nil
	}
	return slices.Clone(f.topics)
}

// Matches reports whether topic is covered by the filter.
func (f Filter) Matches(topic Topic) bool {
	return f.all || slices.Contains(f.topics, topic)
}

// Validate checks that an explicit filter names valid topics.
func (f Filter) Validate() error {
	if f.all {
		return nil
	}
	if len(f.topics) == 0 {
		return ErrEmptyFilter
	}
	for _, t := range f.topics {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
