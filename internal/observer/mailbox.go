package observer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/metrics"
	"github.com/zjrosen/fanout/internal/queue"
	"github.com/zjrosen/fanout/internal/tracing"
)

// DefaultMailboxCapacity is the mailbox size used when none is configured.
const DefaultMailboxCapacity = queue.DefaultMaxSize

const idlePollInterval = 5 * time.Millisecond

type mailboxConfig struct {
	name     string
	capacity int
	policy   queue.Policy
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// MailboxOption configures a Mailbox.
type MailboxOption func(*mailboxConfig)

// WithName labels the mailbox in logs, metrics and spans.
func WithName(name string) MailboxOption {
	return func(c *mailboxConfig) {
		c.name = name
	}
}

// WithCapacity bounds the mailbox. Zero means unbounded; negative values
// select DefaultMailboxCapacity.
func WithCapacity(n int) MailboxOption {
	return func(c *mailboxConfig) {
		c.capacity = n
	}
}

// WithOverflow selects what a full mailbox does with a new message.
func WithOverflow(p queue.Policy) MailboxOption {
	return func(c *mailboxConfig) {
		c.policy = p
	}
}

// WithMailboxMetrics records evictions and handler errors on c.
func WithMailboxMetrics(c *metrics.Collector) MailboxOption {
	return func(cfg *mailboxConfig) {
		cfg.metrics = c
	}
}

// WithMailboxTracer opens an observer.handle span around every handler call.
func WithMailboxTracer(t trace.Tracer) MailboxOption {
	return func(c *mailboxConfig) {
		c.tracer = t
	}
}

// Mailbox is a subscriber handle: a FIFO queue drained by one goroutine
// that feeds each message to an Observer.
type Mailbox[T any] struct {
	id       HandleID
	name     string
	observer Observer[T]
	queue    *queue.Queue[Message[T]]
	metrics  *metrics.Collector
	tracer   trace.Tracer

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool

	busy      atomic.Bool
	processed atomic.Uint64
	failures  atomic.Uint64
}

// Spawn starts a goroutine running obs and returns its mailbox. The
// goroutine exits when ctx is cancelled or Stop is called; messages still
// queued at that point are discarded.
func Spawn[T any](ctx context.Context, obs Observer[T], opts ...MailboxOption) *Mailbox[T] {
	m := newMailbox(obs, opts...)
	log.SafeGo("mailbox "+m.name, func() { m.run(ctx) })
	log.Debug(log.CatObserver, "spawned", "handle", m.String(), "capacity", m.queue.Cap(), "policy", m.queue.Policy())
	return m
}

func newMailbox[T any](obs Observer[T], opts ...MailboxOption) *Mailbox[T] {
	cfg := mailboxConfig{
		capacity: DefaultMailboxCapacity,
		policy:   queue.DropOldest,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := NewHandleID()
	if cfg.name == "" {
		cfg.name = "observer-" + string(id)[:8]
	}

	return &Mailbox[T]{
		id:       id,
		name:     cfg.name,
		observer: obs,
		queue:    queue.New[Message[T]](cfg.capacity, cfg.policy),
		metrics:  cfg.metrics,
		tracer:   cfg.tracer,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the handle identity.
func (m *Mailbox[T]) ID() HandleID { return m.id }

// Name returns the label given by WithName.
func (m *Mailbox[T]) Name() string { return m.name }

func (m *Mailbox[T]) String() string {
	return fmt.Sprintf("%s(%s)", m.name, m.id)
}

// Deliver enqueues msg without blocking. It fails with ErrHandleClosed once
// the mailbox has stopped, and with ErrMailboxFull when a drop-newest
// mailbox is at capacity. Under drop-oldest the oldest queued message is
// evicted instead; use Offer to learn which one.
func (m *Mailbox[T]) Deliver(msg Message[T]) error {
	_, _, err := m.Offer(msg)
	return err
}

// Offer is Deliver that also returns the message a full drop-oldest
// mailbox evicted to make room for msg.
func (m *Mailbox[T]) Offer(msg Message[T]) (evicted Message[T], wasEvicted bool, err error) {
	if m.closed.Load() {
		return evicted, false, ErrHandleClosed
	}

	evicted, wasEvicted, err = m.queue.Enqueue(msg)
	if err != nil {
		return evicted, false, fmt.Errorf("%w: %s holds %d messages", ErrMailboxFull, m, m.queue.Cap())
	}
	if wasEvicted {
		m.metrics.Evicted(string(evicted.Topic))
		log.Warn(log.CatObserver, "mailbox full, evicted oldest",
			"handle", m.String(), "topic", evicted.Topic, "seq", evicted.Seq)
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return evicted, wasEvicted, nil
}

// Stop ends the goroutine. Safe to call more than once.
func (m *Mailbox[T]) Stop() {
	m.stopOnce.Do(func() {
		m.closed.Store(true)
		close(m.stop)
	})
}

// Done is closed once the goroutine has exited.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the goroutine has exited or ctx is done.
func (m *Mailbox[T]) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle blocks until the mailbox is empty and no handler is running, or
// until ctx is done.
func (m *Mailbox[T]) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if m.queue.Len() == 0 && !m.busy.Load() {
			return nil
		}
		select {
		case <-m.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Closed reports whether the mailbox no longer accepts messages.
func (m *Mailbox[T]) Closed() bool { return m.closed.Load() }

// Pending returns the number of queued messages.
func (m *Mailbox[T]) Pending() int { return m.queue.Len() }

// Processed returns how many handler calls have completed.
func (m *Mailbox[T]) Processed() uint64 { return m.processed.Load() }

// Failures returns how many handler calls returned an error or panicked.
func (m *Mailbox[T]) Failures() uint64 { return m.failures.Load() }

// Dropped returns how many messages overflow has discarded.
func (m *Mailbox[T]) Dropped() uint64 { return m.queue.Dropped() }

func (m *Mailbox[T]) run(ctx context.Context) {
	defer close(m.done)
	defer m.closed.Store(true)

	for {
		select {
		case <-ctx.Done():
			log.Debug(log.CatObserver, "context done, stopping", "handle", m.String())
			return
		case <-m.stop:
			log.Debug(log.CatObserver, "stopped", "handle", m.String(), "discarded", m.queue.Len())
			return
		case <-m.wake:
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			default:
			}
			m.busy.Store(true)
			msg, ok := m.queue.Dequeue()
			if !ok {
				m.busy.Store(false)
				break
			}
			m.handle(ctx, msg)
			m.busy.Store(false)
		}
	}
}

func (m *Mailbox[T]) handle(ctx context.Context, msg Message[T]) {
	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, tracing.SpanHandle,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String(tracing.AttrTopic, string(msg.Topic)),
				attribute.String(tracing.AttrMessageID, msg.ID),
				attribute.Int64(tracing.AttrMessageSeq, int64(msg.Seq)),
				attribute.String(tracing.AttrHandleID, string(m.id)),
				attribute.String(tracing.AttrHandleName, m.name),
			))
		defer span.End()
	}

	defer m.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			m.failures.Add(1)
			m.metrics.HandlerError(m.name)
			log.Error(log.CatObserver, "handler panicked",
				"handle", m.String(), "topic", msg.Topic, "seq", msg.Seq,
				"panic", r, "stack", string(debug.Stack()))
			if span != nil {
				span.AddEvent(tracing.EventHandlerPanicked)
				span.SetStatus(codes.Error, fmt.Sprint(r))
			}
		}
	}()

	if err := m.observer.HandleNotification(ctx, msg); err != nil {
		m.failures.Add(1)
		m.metrics.HandlerError(m.name)
		log.ErrorErr(log.CatObserver, "handler failed", err,
			"handle", m.String(), "topic", msg.Topic, "seq", msg.Seq)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
}
