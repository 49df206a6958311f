package observer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fanout/internal/eventstream"
	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/statecache"
	"github.com/zjrosen/fanout/internal/tracing"
)

// StateSubject keeps the last value seen per topic and publishes a
// Change[T] for every update. Updates to one topic are serialized: the
// read of the old value, the publish and the write of the new value
// happen under that topic's lock.
type StateSubject[T any] struct {
	subject *Subject[Change[T]]
	store   statecache.Store[Topic, T]
	tracer  trace.Tracer

	mu    sync.Mutex
	locks map[Topic]*topicLock
}

// topicLock is held by updates to one topic. refs counts holders and
// waiters; the entry leaves the map when it drops to zero.
type topicLock struct {
	sync.Mutex
	refs int
}

// NewStateSubject returns a StateSubject whose values expire after ttl.
// A ttl of zero keeps values until Forget or Close; an expired value is
// treated as never seen.
func NewStateSubject[T any](ttl time.Duration, opts ...Option) *StateSubject[T] {
	cfg := buildConfig(opts)
	cleanup := time.Duration(0)
	if ttl > 0 {
		cleanup = statecache.DefaultCleanupInterval
		if ttl < cleanup {
			cleanup = ttl
		}
	}
	return NewStateSubjectWithStore[T](statecache.NewMemoryStore[Topic, T](cfg.name, ttl, cleanup), opts...)
}

// NewStateSubjectWithStore returns a StateSubject backed by store.
func NewStateSubjectWithStore[T any](store statecache.Store[Topic, T], opts ...Option) *StateSubject[T] {
	cfg := buildConfig(opts)
	return &StateSubject[T]{
		subject: NewSubject[Change[T]](opts...),
		store:   store,
		tracer:  cfg.tracer,
		locks:   make(map[Topic]*topicLock),
	}
}

func (s *StateSubject[T]) lock(topic Topic) *topicLock {
	s.mu.Lock()
	l, ok := s.locks[topic]
	if !ok {
		l = &topicLock{}
		s.locks[topic] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return l
}

func (s *StateSubject[T]) unlock(topic Topic, l *topicLock) {
	l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, topic)
	}
}

// Update records value for topic and publishes the change. If the publish
// is rejected the stored value is left as it was.
func (s *StateSubject[T]) Update(ctx context.Context, topic Topic, value T) (Change[T], error) {
	if err := topic.Validate(); err != nil {
		return Change[T]{}, err
	}

	l := s.lock(topic)
	defer s.unlock(topic, l)

	old, had := s.store.Get(ctx, topic)
	change := Change[T]{Old: old, New: value, HadOld: had}

	ctx, span := s.tracer.Start(ctx, tracing.SpanUpdate, trace.WithAttributes(
		attribute.String(tracing.AttrSubject, s.subject.Name()),
		attribute.String(tracing.AttrTopic, string(topic)),
		attribute.Bool(tracing.AttrStateHadOld, had),
	))
	defer span.End()

	if err := s.subject.Publish(ctx, topic, change); err != nil {
		return Change[T]{}, err
	}
	s.store.Set(ctx, topic, value, statecache.DefaultExpiration)

	log.Debug(log.CatState, "updated", "subject", s.subject.Name(), "topic", topic, "had_old", had)
	return change, nil
}

// Value returns the last value recorded for topic.
func (s *StateSubject[T]) Value(ctx context.Context, topic Topic) (T, bool) {
	return s.store.Get(ctx, topic)
}

// Values returns the last values recorded for topics. Topics never seen or
// already expired are absent from the map.
func (s *StateSubject[T]) Values(ctx context.Context, topics ...Topic) map[Topic]T {
	values, ok := s.store.GetMultiple(ctx, topics)
	if !ok {
		return map[Topic]T{}
	}
	return values
}

// Snapshot returns every unexpired value.
func (s *StateSubject[T]) Snapshot(ctx context.Context) map[Topic]T {
	return s.store.Items(ctx)
}

// Forget drops the stored value of topics, so their next update has no
// old value.
func (s *StateSubject[T]) Forget(ctx context.Context, topics ...Topic) error {
	for _, t := range topics {
		l := s.lock(t)
		err := s.store.Delete(ctx, t)
		s.unlock(t, l)
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers h for changes on the topics of f.
func (s *StateSubject[T]) Subscribe(h *Mailbox[Change[T]], f Filter) error {
	return s.subject.Subscribe(h, f)
}

// Unsubscribe removes h from every topic.
func (s *StateSubject[T]) Unsubscribe(h *Mailbox[Change[T]]) error {
	return s.subject.Unsubscribe(h)
}

// UnsubscribeFilter removes only the registrations named by f.
func (s *StateSubject[T]) UnsubscribeFilter(h *Mailbox[Change[T]], f Filter) error {
	return s.subject.UnsubscribeFilter(h, f)
}

// SubscriberCount returns how many live mailboxes an update on topic reaches.
func (s *StateSubject[T]) SubscriberCount(topic Topic) int {
	return s.subject.SubscriberCount(topic)
}

// Diagnostics streams delivery failures.
func (s *StateSubject[T]) Diagnostics(ctx context.Context) <-chan eventstream.Event[DeliveryFailure] {
	return s.subject.Diagnostics(ctx)
}

// Name returns the subject label.
func (s *StateSubject[T]) Name() string { return s.subject.Name() }

// Close closes the underlying subject and discards all stored values.
func (s *StateSubject[T]) Close() {
	s.subject.Close()
	if err := s.store.Flush(context.Background()); err != nil {
		log.ErrorErr(log.CatState, "flush state", err, "subject", s.subject.Name())
	}
}
