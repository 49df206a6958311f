package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fanout/internal/config"
	"github.com/zjrosen/fanout/internal/eventstream"
	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/metrics"
	"github.com/zjrosen/fanout/internal/observer"
	"github.com/zjrosen/fanout/internal/queue"
	"github.com/zjrosen/fanout/internal/tracing"
)

// runtime carries the shared pieces every command wires into its subjects
// and mailboxes: metrics, tracing and mailbox policy.
type runtime struct {
	bus      config.BusConfig
	policy   queue.Policy
	metrics  *metrics.Collector
	provider *tracing.Provider
	tracer   trace.Tracer
	server   *http.Server
	addr     string
}

func newRuntime(c config.Config, addrOverride string) (*runtime, error) {
	policy, err := queue.ParsePolicy(c.Bus.Overflow)
	if err != nil {
		return nil, fmt.Errorf("bus.overflow: %w", err)
	}

	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	rt := &runtime{
		bus:      c.Bus,
		policy:   policy,
		provider: provider,
		tracer:   provider.Tracer(),
	}

	addr := addrOverride
	if addr == "" && c.Metrics.Enabled {
		addr = c.Metrics.Addr
	}
	if addr != "" {
		rt.metrics = metrics.New("fanout")
		if err := rt.serveMetrics(addr); err != nil {
			_ = provider.Shutdown(context.Background())
			return nil, err
		}
	}
	return rt, nil
}

func (r *runtime) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.metrics.Handler())
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	r.addr = ln.Addr().String()

	log.SafeGo("metrics-server", func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatMetrics, "metrics server stopped", err, "addr", r.addr)
		}
	})
	log.Info(log.CatMetrics, "serving metrics", "addr", r.addr)
	return nil
}

func (r *runtime) subjectOptions(name string) []observer.Option {
	return []observer.Option{
		observer.WithSubjectName(name),
		observer.WithMetrics(r.metrics),
		observer.WithTracer(r.tracer),
		observer.WithDiagnosticsBuffer(r.bus.DiagnosticsBuffer),
	}
}

func (r *runtime) mailboxOptions(name string) []observer.MailboxOption {
	return []observer.MailboxOption{
		observer.WithName(name),
		observer.WithCapacity(r.bus.MailboxSize),
		observer.WithOverflow(r.policy),
		observer.WithMailboxMetrics(r.metrics),
		observer.WithMailboxTracer(r.tracer),
	}
}

func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping metrics server: %w", err))
		}
	}
	if err := r.provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}
	return errors.Join(errs...)
}

// lockedWriter serializes writes from observers running on separate goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// stopAll drains and stops every mailbox.
func stopAll[T any](ctx context.Context, boxes ...*observer.Mailbox[T]) {
	for _, b := range boxes {
		if err := b.WaitIdle(ctx); err != nil {
			log.Warn(log.CatObserver, "mailbox did not drain", "handle", b.String(), "pending", b.Pending())
		}
		b.Stop()
		<-b.Done()
	}
}

// watchFailures prints delivery failures from ch on out. The returned
// func blocks until ch closes and reports how many were seen.
func watchFailures(out io.Writer, ch <-chan eventstream.Event[observer.DeliveryFailure]) func() int {
	done := make(chan int, 1)
	log.SafeGo("failure-printer", func() {
		n := 0
		for ev := range ch {
			n++
			label := "delivery failed: "
			if ev.Kind == eventstream.KindDropped {
				label = "evicted: "
			}
			_, _ = fmt.Fprintln(out, failureStyle.Render(label+ev.Payload.Error()))
		}
		done <- n
	})
	return func() int { return <-done }
}

// followLog copies log entries to w until the returned stop func is called.
// When logging is off it installs an in-memory logger at level for the
// duration, so the stream exists to listen to.
func followLog(ctx context.Context, w io.Writer, level string) func() {
	ctx, cancel := context.WithCancel(ctx)

	var restore func()
	ch := log.NewListener(ctx)
	if ch == nil {
		restore = log.InitWriter(io.Discard)
		if lvl, err := log.ParseLevel(level); err == nil {
			log.SetMinLevel(lvl)
		}
		ch = log.NewListener(ctx)
	}

	done := make(chan struct{})
	log.SafeGo("log-follower", func() {
		defer close(done)
		for ev := range ch {
			_, _ = fmt.Fprintln(w, subtleStyle.Render(strings.TrimSuffix(ev.Payload, "\n")))
		}
	})

	return func() {
		cancel()
		<-done
		if restore != nil {
			restore()
		}
	}
}
