package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fanout/internal/eventstream"
	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/metrics"
	"github.com/zjrosen/fanout/internal/tracing"
)

// Report summarizes one fan-out. Evicted counts older queued messages that
// drop-oldest mailboxes discarded to accept this one.
type Report struct {
	Recipients int
	Delivered  int
	Failed     int
	Evicted    int
}

// Dispatcher fans one message out to the recipients a Registry resolves
// for its topic. Each delivery is a non-blocking enqueue; a failure is
// reported on the failure sink and delivery continues with the rest.
type Dispatcher[T any] struct {
	subject  string
	registry *Registry[T]
	metrics  *metrics.Collector
	failures eventstream.Sink[DeliveryFailure]
}

// NewDispatcher returns a Dispatcher over registry. failures and m may be nil.
func NewDispatcher[T any](subject string, registry *Registry[T], failures eventstream.Sink[DeliveryFailure], m *metrics.Collector) *Dispatcher[T] {
	return &Dispatcher[T]{
		subject:  subject,
		registry: registry,
		metrics:  m,
		failures: failures,
	}
}

// Dispatch delivers msg to every current recipient of msg.Topic.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, msg Message[T]) Report {
	live, stale := d.registry.Snapshot(msg.Topic)
	span := trace.SpanFromContext(ctx)
	span.AddEvent(tracing.EventSnapshotTaken, trace.WithAttributes(
		attribute.Int(tracing.AttrRecipients, len(live)+len(stale)),
	))

	report := Report{Recipients: len(live) + len(stale)}

	for _, id := range stale {
		d.fail(span, DeliveryFailure{
			HandleID: id,
			Cause:    ErrStaleHandle,
		}, msg)
		report.Failed++
	}
	if len(stale) > 0 {
		d.registry.Prune()
	}

	for _, h := range live {
		m := msg
		m.Payload = copyPayload(msg.Payload)
		evicted, wasEvicted, err := h.Offer(m)
		if err != nil {
			d.fail(span, DeliveryFailure{
				HandleID:   h.ID(),
				HandleName: h.Name(),
				Cause:      err,
			}, msg)
			report.Failed++
			continue
		}
		d.metrics.Delivered(string(msg.Topic))
		report.Delivered++

		if wasEvicted {
			// The failure belongs to the evicted message, which may be on another topic.
			span.AddEvent(tracing.EventMessageEvicted, trace.WithAttributes(
				attribute.String(tracing.AttrHandleID, string(h.ID())),
				attribute.String(tracing.AttrMessageID, evicted.ID),
				attribute.Int64(tracing.AttrMessageSeq, int64(evicted.Seq)),
			))
			d.fail(span, DeliveryFailure{
				HandleID:   h.ID(),
				HandleName: h.Name(),
				Cause:      ErrEvicted,
			}, evicted)
			report.Evicted++
		}
	}

	return report
}

func (d *Dispatcher[T]) fail(span trace.Span, f DeliveryFailure, msg Message[T]) {
	f.Subject = d.subject
	f.Topic = msg.Topic
	f.MessageID = msg.ID
	f.Seq = msg.Seq
	f.At = time.Now()

	reason := f.Reason()
	d.metrics.Failed(string(msg.Topic), reason)
	span.AddEvent(tracing.EventDeliveryFailed, trace.WithAttributes(
		attribute.String(tracing.AttrHandleID, string(f.HandleID)),
		attribute.String(tracing.AttrFailReason, reason),
	))
	log.Warn(log.CatDispatch, "delivery failed",
		"subject", d.subject, "topic", msg.Topic, "seq", msg.Seq,
		"handle", f.HandleID, "reason", reason)

	if d.failures != nil {
		kind := eventstream.KindDeliveryFailed
		if reason == metrics.ReasonEvicted {
			kind = eventstream.KindDropped
		}
		d.failures.Emit(kind, f)
	}
}
