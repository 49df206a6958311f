package watcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fanout/internal/observer"
	"github.com/zjrosen/fanout/internal/observers"
	"github.com/zjrosen/fanout/internal/watcher"
)

type published struct {
	topic observer.Topic
	ev    watcher.Event
}

type chanPublisher chan published

func (c chanPublisher) Publish(_ context.Context, topic observer.Topic, ev watcher.Event) error {
	c <- published{topic: topic, ev: ev}
	return nil
}

func startWatcher(t *testing.T, cfg watcher.Config, pub watcher.Publisher) *watcher.Watcher {
	t.Helper()
	w, err := watcher.New(cfg, pub)
	require.NoError(t, err, "failed to create watcher")
	require.NoError(t, w.Start(context.Background()), "failed to start watcher")
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("test"), 0o644))

	pub := make(chanPublisher, 16)
	startWatcher(t, watcher.Config{Dir: dir, DebounceDur: 50 * time.Millisecond}, pub)

	// Rapid writes should coalesce into a single event
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("test%d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-pub:
		assert.Equal(t, watcher.TopicWrite, got.topic)
		assert.Equal(t, path, got.ev.Path)
		assert.Equal(t, "write", got.ev.Op)
		assert.False(t, got.ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event but got timeout")
	}

	select {
	case got := <-pub:
		t.Fatalf("unexpected second event: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	otherPath := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(otherPath, []byte("initial"), 0o644))

	pub := make(chanPublisher, 16)
	startWatcher(t, watcher.Config{Dir: dir, DebounceDur: 50 * time.Millisecond, Patterns: []string{"*.go"}}, pub)

	require.NoError(t, os.WriteFile(otherPath, []byte("other content"), 0o644))

	select {
	case got := <-pub:
		t.Fatalf("should not publish for unmatched files: %+v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_CreateThenWriteIsCreate(t *testing.T) {
	dir := t.TempDir()
	pub := make(chanPublisher, 16)
	startWatcher(t, watcher.Config{Dir: dir, DebounceDur: 50 * time.Millisecond, Patterns: []string{"*.go"}}, pub)

	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main"), 0o644))

	select {
	case got := <-pub:
		assert.Equal(t, watcher.TopicCreate, got.topic)
		assert.Equal(t, path, got.ev.Path)
	case <-time.After(time.Second):
		t.Fatal("expected create event")
	}
}

func TestWatcher_PublishesToSubject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	subject := observer.NewSubject[watcher.Event]()
	defer subject.Close()

	rec := observers.NewRecorder[watcher.Event]()
	h := observer.Spawn[watcher.Event](context.Background(), rec)
	defer func() {
		h.Stop()
		<-h.Done()
	}()
	require.NoError(t, subject.Subscribe(h, observer.Topics(watcher.TopicWrite)))

	startWatcher(t, watcher.Config{Dir: dir, DebounceDur: 30 * time.Millisecond}, subject)
	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.WaitFor(ctx, 1))

	msgs := rec.Messages()
	require.Equal(t, watcher.TopicWrite, msgs[0].Topic)
	require.Equal(t, path, msgs[0].Payload.Path)
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()

	w, err := watcher.New(watcher.Config{Dir: dir, DebounceDur: 50 * time.Millisecond}, make(chanPublisher, 1))
	require.NoError(t, err, "failed to create watcher")
	require.NoError(t, w.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Stop(), "Stop returned error")
		assert.NoError(t, w.Stop(), "second Stop returned error")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(t.TempDir()), make(chanPublisher, 1))
	require.NoError(t, err)
	require.NoError(t, w.Stop())
}

func TestWatcher_MissingDir(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(filepath.Join(t.TempDir(), "missing")), make(chanPublisher, 1))
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()
	require.Error(t, w.Start(context.Background()))
}

func TestNew_BadPattern(t *testing.T) {
	_, err := watcher.New(watcher.Config{Dir: t.TempDir(), Patterns: []string{"["}}, make(chanPublisher, 1))
	require.ErrorContains(t, err, "invalid pattern")
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/tmp/project")

	assert.Equal(t, "/tmp/project", cfg.Dir)
	assert.Equal(t, 100*time.Millisecond, cfg.DebounceDur)
	assert.Empty(t, cfg.Patterns)
}

func TestWatcher_StopPublishesPendingWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.txt")

	pub := make(chanPublisher, 16)
	w := startWatcher(t, watcher.Config{Dir: dir, DebounceDur: time.Minute}, pub)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.Empty(t, pub, "debounce window still open")

	require.NoError(t, w.Stop())

	select {
	case got := <-pub:
		assert.Equal(t, watcher.TopicCreate, got.topic)
		assert.Equal(t, path, got.ev.Path)
	default:
		t.Fatal("pending path was not published on stop")
	}
}

func TestWatcher_CancelPublishesPendingWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.txt")

	pub := make(chanPublisher, 16)
	w, err := watcher.New(watcher.Config{Dir: dir, DebounceDur: time.Minute}, pub)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case got := <-pub:
		assert.Equal(t, path, got.ev.Path)
	case <-time.After(time.Second):
		t.Fatal("pending path was not published on cancel")
	}
	require.NoError(t, w.Stop())
}
