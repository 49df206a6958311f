package observers

import (
	"context"
	"path"

	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/observer"
)

// TopicFilter passes only the messages accepted by a predicate on to the
// wrapped observer.
type TopicFilter[T any] struct {
	next   observer.Observer[T]
	accept func(observer.Message[T]) bool
}

// NewTopicFilter wraps next.
func NewTopicFilter[T any](next observer.Observer[T], accept func(observer.Message[T]) bool) *TopicFilter[T] {
	return &TopicFilter[T]{next: next, accept: accept}
}

func (f *TopicFilter[T]) HandleNotification(ctx context.Context, msg observer.Message[T]) error {
	if !f.accept(msg) {
		return nil
	}
	return f.next.HandleNotification(ctx, msg)
}

// MatchTopics accepts messages whose topic matches any of the path.Match
// patterns. Malformed patterns match nothing.
func MatchTopics[T any](patterns ...string) func(observer.Message[T]) bool {
	return func(msg observer.Message[T]) bool {
		return matchAny(patterns, string(msg.Topic))
	}
}

func matchAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		ok, err := path.Match(p, topic)
		if err != nil {
			log.Warn(log.CatObserver, "bad topic pattern", "pattern", p, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
