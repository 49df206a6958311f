package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/fanout/internal/config"
	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/observer"
	"github.com/zjrosen/fanout/internal/observers"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an observer demo",
}

var demoBasicCmd = &cobra.Command{
	Use:   "basic",
	Short: "One subject, two observers, one topic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			return runBasicDemo(ctx, cmd.OutOrStdout(), rt)
		})
	},
}

var demoTopicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Per-topic, all-topic, routed and filtered observers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			return runTopicsDemo(ctx, cmd.OutOrStdout(), rt)
		})
	},
}

var demoTickerCmd = &cobra.Command{
	Use:   "ticker",
	Short: "Stock ticker with threshold alerts",
	Long: `Simulates prices for the configured symbols on a state subject. A board
observer prints every change and an alert observer fires when a price crosses
ticker.high or ticker.low.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tc := cfg.Ticker
		if cmd.Flags().Changed("ticks") {
			tc.Ticks = tickerTicks
		}
		if cmd.Flags().Changed("seed") {
			tc.Seed = tickerSeed
		}
		if err := config.ValidateTicker(tc); err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			return runTickerDemo(ctx, cmd.OutOrStdout(), rt, tc)
		})
	},
}

var (
	tickerTicks int
	tickerSeed  uint64
	followLogs  bool
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.AddCommand(demoBasicCmd, demoTopicsCmd, demoTickerCmd)

	demoCmd.PersistentFlags().BoolVar(&followLogs, "follow-log", false, "print log entries to stderr while the demo runs")
	demoTickerCmd.Flags().IntVar(&tickerTicks, "ticks", 0, "number of price ticks (overrides ticker.ticks)")
	demoTickerCmd.Flags().Uint64Var(&tickerSeed, "seed", 0, "random seed (overrides ticker.seed)")
}

// withRuntime builds the shared runtime, runs fn until it returns or the
// process is interrupted, then flushes traces and stops the metrics server.
func withRuntime(cmd *cobra.Command, fn func(context.Context, *runtime) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(cfg, metricsAddr)
	if err != nil {
		return err
	}
	if followLogs {
		stopFollowing := followLog(ctx, cmd.ErrOrStderr(), cfg.Log.Level)
		defer stopFollowing()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			log.ErrorErr(log.CatBus, "runtime shutdown", err)
		}
	}()

	return fn(ctx, rt)
}

func runBasicDemo(ctx context.Context, w io.Writer, rt *runtime) error {
	out := &lockedWriter{w: w}
	_, _ = fmt.Fprintln(out, header("basic"))

	subject := observer.NewSubject[string](rt.subjectOptions("basic")...)
	defer subject.Close()
	failures := watchFailures(out, subject.Diagnostics(ctx))

	a := observer.Spawn[string](ctx, observers.NewPrinter[string]("observer-a", out), rt.mailboxOptions("observer-a")...)
	b := observer.Spawn[string](ctx, observers.NewPrinter[string]("observer-b", out), rt.mailboxOptions("observer-b")...)
	defer stopAll(ctx, a, b)

	for _, h := range []*observer.Mailbox[string]{a, b} {
		if err := subject.Subscribe(h, observer.Topics("news")); err != nil {
			return err
		}
	}

	for _, p := range []string{"hello", "world"} {
		if err := subject.Publish(ctx, "news", p); err != nil {
			return err
		}
	}
	if err := b.WaitIdle(ctx); err != nil {
		return err
	}

	if err := subject.Unsubscribe(b); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, subtleStyle.Render("observer-b unsubscribed"))

	if err := subject.Publish(ctx, "news", "only observer-a hears this"); err != nil {
		return err
	}

	stopAll(ctx, a, b)
	subject.Close()
	_, _ = fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("done, %d delivery failures", failures())))
	return nil
}

func runTopicsDemo(ctx context.Context, w io.Writer, rt *runtime) error {
	out := &lockedWriter{w: w}
	_, _ = fmt.Fprintln(out, header("topics"))

	subject := observer.NewSubject[string](rt.subjectOptions("topics")...)
	defer subject.Close()
	failures := watchFailures(out, subject.Diagnostics(ctx))

	say := func(format string, args ...any) {
		_, _ = fmt.Fprintf(out, format+"\n", args...)
	}
	auditor := observers.NewRouter[string]().
		Handle("news", func(_ context.Context, m observer.Message[string]) error {
			say("[auditor] headline #%d: %s", m.Seq, m.Payload)
			return nil
		}).
		Handle("weather*", func(_ context.Context, m observer.Message[string]) error {
			say("[auditor] forecast on %s: %s", m.Topic, m.Payload)
			return nil
		}).
		Fallback(func(_ context.Context, m observer.Message[string]) error {
			say("[auditor] %s: %s", m.Topic, m.Payload)
			return nil
		})
	warnings := observers.NewTopicFilter[string](
		observers.NewPrinter[string]("weather-warnings", out),
		observers.MatchTopics[string]("weather.*"),
	)

	type sub struct {
		name   string
		obs    observer.Observer[string]
		filter observer.Filter
	}
	subs := []sub{
		{"sports-fan", observers.NewPrinter[string]("sports-fan", out), observer.Topics("sports")},
		{"news-reader", observers.NewPrinter[string]("news-reader", out), observer.Topics("news", "weather")},
		{"auditor", auditor, observer.All()},
		{"weather-warnings", warnings, observer.All()},
	}

	boxes := make([]*observer.Mailbox[string], 0, len(subs))
	defer func() { stopAll(ctx, boxes...) }()
	for _, s := range subs {
		h := observer.Spawn(ctx, s.obs, rt.mailboxOptions(s.name)...)
		boxes = append(boxes, h)
		if err := subject.Subscribe(h, s.filter); err != nil {
			return err
		}
	}

	publishes := []struct {
		topic   observer.Topic
		payload string
	}{
		{"news", "election results are in"},
		{"sports", "home team wins"},
		{"weather", "sunny afternoon"},
		{"weather.alerts", "flood watch issued"},
		{"finance", "markets flat"},
	}
	for _, p := range publishes {
		if err := subject.Publish(ctx, p.topic, p.payload); err != nil {
			return err
		}
	}
	stopAll(ctx, boxes...)

	for _, p := range publishes {
		say("%s", subtleStyle.Render(fmt.Sprintf("%-15s reached %d observers", p.topic, subject.SubscriberCount(p.topic))))
	}
	subject.Close()
	_, _ = fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("done, %d delivery failures", failures())))
	return nil
}

const tickerTopicPrefix = "ticker."

func runTickerDemo(ctx context.Context, w io.Writer, rt *runtime, tc config.TickerConfig) error {
	out := &lockedWriter{w: w}
	_, _ = fmt.Fprintln(out, header("ticker"))

	state := observer.NewStateSubject[float64](tc.StateTTL, rt.subjectOptions("ticker")...)
	defer state.Close()
	failures := watchFailures(out, state.Diagnostics(ctx))

	board := observers.NewPrinter[observer.Change[float64]]("board", out).
		WithFormat(func(m observer.Message[observer.Change[float64]]) string {
			symbol := strings.TrimPrefix(string(m.Topic), tickerTopicPrefix)
			c := m.Payload
			if !c.HadOld {
				return fmt.Sprintf("%-8s open %8.2f", symbol, c.New)
			}
			return fmt.Sprintf("%-8s %8.2f -> %8.2f (%+.2f)", symbol, c.Old, c.New, c.New-c.Old)
		})
	alerts := observers.NewThresholdAlert("price-alert",
		func(_ context.Context, a observers.Alert[float64]) error {
			_, err := fmt.Fprintln(out, alertStyle.Render("ALERT "+a.String()))
			return err
		},
		observers.WithHigh(tc.High),
		observers.WithLow(tc.Low),
		observers.WithRecovery[float64](),
	)

	boardBox := observer.Spawn[observer.Change[float64]](ctx, board, rt.mailboxOptions("board")...)
	alertBox := observer.Spawn[observer.Change[float64]](ctx, alerts, rt.mailboxOptions("price-alert")...)
	defer stopAll(ctx, boardBox, alertBox)
	for _, h := range []*observer.Mailbox[observer.Change[float64]]{boardBox, alertBox} {
		if err := state.Subscribe(h, observer.All()); err != nil {
			return err
		}
	}

	seed := tc.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	log.Info(log.CatState, "ticker starting", "symbols", tc.Symbols, "ticks", tc.Ticks, "seed", seed)

	prices := make(map[string]float64, len(tc.Symbols))
	for _, sym := range tc.Symbols {
		prices[sym] = tc.Start
		if _, err := state.Update(ctx, observer.Topic(tickerTopicPrefix+sym), tc.Start); err != nil {
			return err
		}
	}

ticks:
	for range tc.Ticks {
		for _, sym := range tc.Symbols {
			p := prices[sym] * (1 + rng.NormFloat64()*0.02)
			p = math.Round(p*100) / 100
			prices[sym] = p
			if _, err := state.Update(ctx, observer.Topic(tickerTopicPrefix+sym), p); err != nil {
				return err
			}
		}
		if tc.Interval > 0 {
			select {
			case <-ctx.Done():
				break ticks
			case <-time.After(tc.Interval):
			}
		}
	}

	stopAll(ctx, boardBox, alertBox)

	topics := make([]observer.Topic, 0, len(tc.Symbols))
	for _, sym := range tc.Symbols {
		topics = append(topics, observer.Topic(tickerTopicPrefix+sym))
	}
	closing := state.Values(ctx, topics...)
	_, _ = fmt.Fprintln(out, subtleStyle.Render(fmt.Sprintf("closing prices (%d of %d tracked):",
		len(closing), len(state.Snapshot(ctx)))))
	for i, t := range topics {
		p, ok := closing[t]
		if !ok {
			_, _ = fmt.Fprintf(out, "  %-8s %8s\n", tc.Symbols[i], "expired")
			continue
		}
		_, _ = fmt.Fprintf(out, "  %-8s %8.2f\n", tc.Symbols[i], p)
	}

	state.Close()
	_, _ = fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("done, %d alerts, %d delivery failures, seed %d",
		len(alerts.Alerts()), failures(), seed)))
	return nil
}
