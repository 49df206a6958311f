// Package watcher publishes debounced file system changes to a subject.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/observer"
)

// Topics used for published events.
const (
	TopicCreate observer.Topic = "file.create"
	TopicWrite  observer.Topic = "file.write"
	TopicRemove observer.Topic = "file.remove"
	TopicRename observer.Topic = "file.rename"
)

// Event describes the settled state of one path after a debounce window.
type Event struct {
	Path string
	Op   string
	At   time.Time
}

// Publisher receives file events. *observer.Subject[Event] satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic observer.Topic, ev Event) error
}

// Config holds watcher configuration options.
type Config struct {
	Dir         string
	DebounceDur time.Duration
	Patterns    []string // base-name globs; empty matches every file
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 100 * time.Millisecond,
	}
}

// Watcher monitors a directory and publishes one event per changed path
// once the path has been quiet for the debounce window.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       Config
	pub       Publisher
	started   atomic.Bool
	done      chan struct{}
	stopped   chan struct{}
}

// New creates a watcher publishing to pub.
func New(cfg Config, pub Publisher) (*Watcher, error) {
	for _, p := range cfg.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		cfg:       cfg,
		pub:       pub,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start begins watching the directory. Publishing stops when ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", w.cfg.Dir, err)
	}
	log.Info(log.CatWatcher, "watching", "dir", w.cfg.Dir, "debounce", w.cfg.DebounceDur, "patterns", w.cfg.Patterns)

	w.started.Store(true)
	log.SafeGo("watcher", func() { w.loop(ctx) })
	return nil
}

// Stop terminates the watcher and releases resources. Paths waiting out
// the debounce window are published before Stop returns.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsWatcher.Close()
	if w.started.Load() {
		<-w.stopped
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	var (
		timer   *time.Timer
		pending = make(map[string]fsnotify.Op)
	)
	// Paths still inside the debounce window are published on the way out.
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if len(pending) > 0 {
			w.flush(context.WithoutCancel(ctx), pending)
		}
	}()
	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(w.cfg.DebounceDur)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.cfg.DebounceDur)
			}

		case <-timerC():
			w.flush(ctx, pending)
			pending = make(map[string]fsnotify.Op)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "dir", w.cfg.Dir)

		case <-ctx.Done():
			return

		case <-w.done:
			return
		}
	}
}

// flush publishes pending paths in name order.
func (w *Watcher) flush(ctx context.Context, pending map[string]fsnotify.Op) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	now := time.Now()
	for _, p := range paths {
		topic, op := topicFor(pending[p])
		ev := Event{Path: p, Op: op, At: now}
		if err := w.pub.Publish(ctx, topic, ev); err != nil {
			log.ErrorErr(log.CatWatcher, "publish failed", err, "path", p, "topic", topic)
			continue
		}
		log.Debug(log.CatWatcher, "published", "path", p, "topic", topic)
	}
}

// topicFor collapses the ops seen in one window into a single topic. A
// removal wins over a rename, a rename over a create, a create over a write.
func topicFor(op fsnotify.Op) (observer.Topic, string) {
	switch {
	case op.Has(fsnotify.Remove):
		return TopicRemove, "remove"
	case op.Has(fsnotify.Rename):
		return TopicRename, "rename"
	case op.Has(fsnotify.Create):
		return TopicCreate, "create"
	default:
		return TopicWrite, "write"
	}
}

// isRelevantEvent drops chmod-only events and names outside the patterns.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	for _, p := range w.cfg.Patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
