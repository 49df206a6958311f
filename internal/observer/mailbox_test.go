package observer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/fanout/internal/queue"
	"github.com/zjrosen/fanout/internal/tracing"
)

func msgOf(t *testing.T, topic Topic, v int) Message[int] {
	t.Helper()
	m, err := NewMessage(topic, v)
	require.NoError(t, err)
	return m
}

// runMailbox starts the loop of a mailbox built with newMailbox.
func runMailbox[T any](t *testing.T, m *Mailbox[T]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go m.run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
}

func TestMailbox_DeliversInOrder(t *testing.T) {
	rec := &recorder[int]{}
	m := spawn[int](t, rec, WithName("ordered"))
	require.Equal(t, "ordered", m.Name())

	for i := range 50 {
		require.NoError(t, m.Deliver(msgOf(t, "x", i)))
	}
	waitIdle(t, m)

	got := rec.payloads()
	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}
	require.Equal(t, uint64(50), m.Processed())
}

func TestMailbox_DropOldest(t *testing.T) {
	rec := &recorder[int]{}
	m := newMailbox[int](rec, WithCapacity(2))

	require.NoError(t, m.Deliver(msgOf(t, "x", 1)))
	require.NoError(t, m.Deliver(msgOf(t, "x", 2)))
	require.NoError(t, m.Deliver(msgOf(t, "x", 3)))
	require.Equal(t, 2, m.Pending())
	require.Equal(t, uint64(1), m.Dropped())

	runMailbox(t, m)
	waitIdle(t, m)
	require.Equal(t, []int{2, 3}, rec.payloads())
}

func TestMailbox_OfferReturnsEvicted(t *testing.T) {
	m := newMailbox(nopObserver[int](), WithCapacity(1))

	_, evicted, err := m.Offer(msgOf(t, "x", 1))
	require.NoError(t, err)
	require.False(t, evicted)

	old, evicted, err := m.Offer(msgOf(t, "y", 2))
	require.NoError(t, err)
	require.True(t, evicted)
	require.Equal(t, Topic("x"), old.Topic)
	require.Equal(t, 1, old.Payload)
	require.Equal(t, 1, m.Pending())
}

func TestMailbox_DropNewest(t *testing.T) {
	rec := &recorder[int]{}
	m := newMailbox[int](rec, WithCapacity(2), WithOverflow(queue.DropNewest))

	require.NoError(t, m.Deliver(msgOf(t, "x", 1)))
	require.NoError(t, m.Deliver(msgOf(t, "x", 2)))
	err := m.Deliver(msgOf(t, "x", 3))
	require.ErrorIs(t, err, ErrMailboxFull)
	require.Equal(t, 2, m.Pending())

	runMailbox(t, m)
	waitIdle(t, m)
	require.Equal(t, []int{1, 2}, rec.payloads())
}

func TestMailbox_Unbounded(t *testing.T) {
	m := newMailbox(nopObserver[int](), WithCapacity(0))
	for i := range 1000 {
		require.NoError(t, m.Deliver(msgOf(t, "x", i)))
	}
	require.Equal(t, 1000, m.Pending())
	require.Zero(t, m.Dropped())
}

func TestMailbox_HandlerErrorAndPanicDoNotStopLoop(t *testing.T) {
	rec := &recorder[int]{}
	obs := ObserverFunc[int](func(ctx context.Context, msg Message[int]) error {
		switch msg.Payload {
		case 1:
			panic("boom")
		case 2:
			return errors.New("handler failed")
		}
		return rec.HandleNotification(ctx, msg)
	})
	m := spawn[int](t, obs)

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.Deliver(msgOf(t, "x", i)))
	}
	waitIdle(t, m)

	require.Equal(t, []int{3}, rec.payloads())
	require.Equal(t, uint64(3), m.Processed())
	require.Equal(t, uint64(2), m.Failures())
}

func TestMailbox_Stop(t *testing.T) {
	m := Spawn(context.Background(), nopObserver[int]())
	m.Stop()
	m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
	require.True(t, m.Closed())
	require.ErrorIs(t, m.Deliver(msgOf(t, "x", 1)), ErrHandleClosed)
}

func TestMailbox_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := Spawn(ctx, nopObserver[int]())
	cancel()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		require.Fail(t, "mailbox did not exit on cancel")
	}
	require.ErrorIs(t, m.Deliver(msgOf(t, "x", 1)), ErrHandleClosed)
}

func TestMailbox_WaitTimesOut(t *testing.T) {
	m := spawn(t, nopObserver[int]())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)
}

func TestMailbox_HandleSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	obs := ObserverFunc[int](func(context.Context, Message[int]) error {
		return errors.New("nope")
	})
	m := spawn[int](t, obs, WithName("traced"), WithMailboxTracer(tp.Tracer("test")))

	require.NoError(t, m.Deliver(msgOf(t, "temp", 1)))
	waitIdle(t, m)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, tracing.SpanHandle, spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "temp", attrs[tracing.AttrTopic])
	require.Equal(t, "traced", attrs[tracing.AttrHandleName])
}
