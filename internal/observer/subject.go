package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/fanout/internal/eventstream"
	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/metrics"
	"github.com/zjrosen/fanout/internal/tracing"
)

const defaultSubjectName = "subject"

type subjectConfig struct {
	name       string
	metrics    *metrics.Collector
	tracer     trace.Tracer
	diagBuffer int
}

// Option configures a Subject or StateSubject.
type Option func(*subjectConfig)

// WithSubjectName labels the subject in logs, metrics and spans.
func WithSubjectName(name string) Option {
	return func(c *subjectConfig) {
		c.name = name
	}
}

// WithMetrics records publish and delivery counters on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *subjectConfig) {
		c.metrics = m
	}
}

// WithTracer opens a span per publish.
func WithTracer(t trace.Tracer) Option {
	return func(c *subjectConfig) {
		c.tracer = t
	}
}

// WithDiagnosticsBuffer sizes each diagnostics listener's channel.
func WithDiagnosticsBuffer(n int) Option {
	return func(c *subjectConfig) {
		c.diagBuffer = n
	}
}

func buildConfig(opts []Option) subjectConfig {
	cfg := subjectConfig{
		name:       defaultSubjectName,
		diagBuffer: eventstream.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.tracer == nil {
		cfg.tracer = noop.NewTracerProvider().Tracer("")
	}
	return cfg
}

// Subject owns a Registry and publishes messages to the mailboxes in it.
type Subject[T any] struct {
	name        string
	registry    *Registry[T]
	dispatcher  *Dispatcher[T]
	diagnostics *eventstream.Stream[DeliveryFailure]
	metrics     *metrics.Collector
	tracer      trace.Tracer

	seq atomic.Uint64

	// mu guards closed. Publish holds the read side so Close waits for
	// in-flight dispatches.
	mu     sync.RWMutex
	closed bool
}

// NewSubject returns an open Subject with an empty Registry.
func NewSubject[T any](opts ...Option) *Subject[T] {
	cfg := buildConfig(opts)
	registry := NewRegistry[T]()
	diagnostics := eventstream.NewStreamWithBuffer[DeliveryFailure](cfg.diagBuffer)

	return &Subject[T]{
		name:        cfg.name,
		registry:    registry,
		dispatcher:  NewDispatcher(cfg.name, registry, diagnostics, cfg.metrics),
		diagnostics: diagnostics,
		metrics:     cfg.metrics,
		tracer:      cfg.tracer,
	}
}

// Name returns the subject label.
func (s *Subject[T]) Name() string { return s.name }

// Registry exposes the subject's registry for inspection.
func (s *Subject[T]) Registry() *Registry[T] { return s.registry }

// Subscribe registers h under every topic of f, or in the all-topics bucket.
// Topics h already holds are reported as ErrAlreadyRegistered; the others
// are still registered.
func (s *Subject[T]) Subscribe(h *Mailbox[T], f Filter) error {
	if h == nil {
		return ErrNilHandle
	}
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	var err error
	if f.IsAll() {
		err = s.registry.RegisterAll(h)
	} else {
		var errs []error
		for _, topic := range f.List() {
			errs = append(errs, s.registry.Register(topic, h))
		}
		err = errors.Join(errs...)
	}

	s.metrics.SetSubscriptions(s.name, s.registry.Len())
	log.Debug(log.CatBus, "subscribe", "subject", s.name, "handle", h.String(), "all", f.IsAll(), "topics", f.List())
	return err
}

// Unsubscribe removes h from every topic and from the all-topics bucket.
func (s *Subject[T]) Unsubscribe(h *Mailbox[T]) error {
	if h == nil {
		return ErrNilHandle
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	n := s.registry.RemoveHandle(h.ID())
	s.metrics.SetSubscriptions(s.name, s.registry.Len())
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	log.Debug(log.CatBus, "unsubscribe", "subject", s.name, "handle", h.String(), "removed", n)
	return nil
}

// UnsubscribeFilter removes only the registrations named by f.
func (s *Subject[T]) UnsubscribeFilter(h *Mailbox[T], f Filter) error {
	if h == nil {
		return ErrNilHandle
	}
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	var err error
	if f.IsAll() {
		err = s.registry.UnregisterAll(h)
	} else {
		var errs []error
		for _, topic := range f.List() {
			errs = append(errs, s.registry.Unregister(topic, h))
		}
		err = errors.Join(errs...)
	}
	s.metrics.SetSubscriptions(s.name, s.registry.Len())
	return err
}

// Publish sends payload to every current subscriber of topic and returns
// without waiting for any of them. Only an invalid topic or a closed
// subject is reported; delivery failures go to Diagnostics.
func (s *Subject[T]) Publish(ctx context.Context, topic Topic, payload T) error {
	_, err := s.publish(ctx, topic, payload)
	return err
}

func (s *Subject[T]) publish(ctx context.Context, topic Topic, payload T) (Report, error) {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return Report{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Report{}, ErrClosed
	}

	msg.Seq = s.seq.Add(1)

	ctx, span := s.tracer.Start(ctx, tracing.SpanPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(tracing.AttrSubject, s.name),
			attribute.String(tracing.AttrTopic, string(topic)),
			attribute.String(tracing.AttrMessageID, msg.ID),
			attribute.Int64(tracing.AttrMessageSeq, int64(msg.Seq)),
		))
	defer span.End()

	s.metrics.Published(string(topic))
	report := s.dispatcher.Dispatch(ctx, msg)

	span.SetAttributes(
		attribute.Int(tracing.AttrRecipients, report.Recipients),
		attribute.Int(tracing.AttrDelivered, report.Delivered),
		attribute.Int(tracing.AttrFailed, report.Failed),
		attribute.Int(tracing.AttrEvicted, report.Evicted),
	)
	log.Debug(log.CatBus, "published",
		"subject", s.name, "topic", topic, "seq", msg.Seq,
		"recipients", report.Recipients, "failed", report.Failed, "evicted", report.Evicted)
	return report, nil
}

// SubscriberCount returns how many live mailboxes a publish on topic
// would reach.
func (s *Subject[T]) SubscriberCount(topic Topic) int {
	live, _ := s.registry.Snapshot(topic)
	return len(live)
}

// Diagnostics streams delivery failures until ctx is done or the subject
// closes. Slow listeners lose events rather than stall delivery.
func (s *Subject[T]) Diagnostics(ctx context.Context) <-chan eventstream.Event[DeliveryFailure] {
	return s.diagnostics.Listen(ctx)
}

// Close rejects further operations and drops every registration. Mailboxes
// belong to whoever spawned them and keep running.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.registry.Clear()
	s.diagnostics.Close()
	s.metrics.SetSubscriptions(s.name, 0)
	log.Debug(log.CatBus, "closed", "subject", s.name)
}

// Closed reports whether Close has been called.
func (s *Subject[T]) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
