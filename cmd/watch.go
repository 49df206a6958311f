package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/fanout/internal/observer"
	"github.com/zjrosen/fanout/internal/observers"
	"github.com/zjrosen/fanout/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Publish file changes in a directory to observers",
	Long: `Watches a directory and publishes one event per changed file once it has
been quiet for the debounce window. Events are published on the topics
file.create, file.write, file.remove and file.rename.

Example:
  fanout watch .                         # every file in the current directory
  fanout watch src --pattern '*.go'      # only Go files
  fanout watch . --for 30s               # stop after 30 seconds`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wc := watcher.Config{
			Dir:         args[0],
			DebounceDur: cfg.Watch.Debounce,
			Patterns:    cfg.Watch.Patterns,
		}
		if cmd.Flags().Changed("debounce") {
			wc.DebounceDur = watchDebounce
		}
		if cmd.Flags().Changed("pattern") {
			wc.Patterns = watchPatterns
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if watchFor > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, watchFor)
				defer cancel()
			}
			return runWatch(ctx, cmd.OutOrStdout(), rt, wc)
		})
	},
}

var (
	watchDebounce time.Duration
	watchPatterns []string
	watchFor      time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before publishing (overrides watch.debounce)")
	watchCmd.Flags().StringSliceVar(&watchPatterns, "pattern", nil, "base-name glob to include, repeatable (overrides watch.patterns)")
	watchCmd.Flags().BoolVar(&followLogs, "follow-log", false, "print log entries to stderr while watching")
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "stop after this long (default: until interrupted)")
}

// runWatch publishes file events until ctx is done, then drains the
// observers before returning.
func runWatch(ctx context.Context, w io.Writer, rt *runtime, wc watcher.Config) error {
	out := &lockedWriter{w: w}
	_, _ = fmt.Fprintln(out, header("watch "+wc.Dir))

	subject := observer.NewSubject[watcher.Event](rt.subjectOptions("watch")...)
	defer subject.Close()

	// Observers outlive ctx so events already published are still printed.
	obsCtx := context.WithoutCancel(ctx)
	printer := observers.NewPrinter[watcher.Event]("changes", out).
		WithFormat(func(m observer.Message[watcher.Event]) string {
			rel, err := filepath.Rel(wc.Dir, m.Payload.Path)
			if err != nil {
				rel = m.Payload.Path
			}
			return fmt.Sprintf("%s %-7s %s", m.Payload.At.Format(time.TimeOnly), m.Payload.Op, rel)
		})
	counts := make(map[observer.Topic]int)
	counter := observer.ObserverFunc[watcher.Event](func(_ context.Context, m observer.Message[watcher.Event]) error {
		counts[m.Topic]++
		return nil
	})

	printBox := observer.Spawn[watcher.Event](obsCtx, printer, rt.mailboxOptions("changes")...)
	countBox := observer.Spawn[watcher.Event](obsCtx, counter, rt.mailboxOptions("counter")...)
	drain := func() {
		drainCtx, cancel := context.WithTimeout(obsCtx, 2*time.Second)
		defer cancel()
		stopAll(drainCtx, printBox, countBox)
	}
	defer drain()

	if err := subject.Subscribe(printBox, observer.All()); err != nil {
		return err
	}
	if err := subject.Subscribe(countBox, observer.Topics(watcher.TopicCreate, watcher.TopicWrite, watcher.TopicRemove, watcher.TopicRename)); err != nil {
		return err
	}

	fw, err := watcher.New(wc, subject)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}

	<-ctx.Done()
	if err := fw.Stop(); err != nil {
		return fmt.Errorf("stopping watcher: %w", err)
	}
	drain()

	_, _ = fmt.Fprintln(out, subtleStyle.Render(fmt.Sprintf("created %d, written %d, removed %d, renamed %d",
		counts[watcher.TopicCreate], counts[watcher.TopicWrite], counts[watcher.TopicRemove], counts[watcher.TopicRename])))
	return nil
}
