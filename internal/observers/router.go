package observers

import (
	"context"
	"sync"

	"github.com/zjrosen/fanout/internal/observer"
)

type route[T any] struct {
	pattern string
	handler observer.ObserverFunc[T]
}

// Router dispatches each message to the first handler whose topic pattern
// matches. Patterns use path.Match syntax, so "prices.*" matches
// "prices.ACME". Messages matching no route go to the fallback, if any.
type Router[T any] struct {
	mu       sync.RWMutex
	routes   []route[T]
	fallback observer.ObserverFunc[T]
}

// NewRouter returns a Router with no routes.
func NewRouter[T any]() *Router[T] {
	return &Router[T]{}
}

// Handle adds a route. Routes are tried in the order they were added.
func (r *Router[T]) Handle(pattern string, fn observer.ObserverFunc[T]) *Router[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route[T]{pattern: pattern, handler: fn})
	return r
}

// Fallback sets the handler for unmatched topics.
func (r *Router[T]) Fallback(fn observer.ObserverFunc[T]) *Router[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
	return r
}

func (r *Router[T]) HandleNotification(ctx context.Context, msg observer.Message[T]) error {
	r.mu.RLock()
	handler := r.fallback
	for _, rt := range r.routes {
		if matchAny([]string{rt.pattern}, string(msg.Topic)) {
			handler = rt.handler
			break
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return nil
	}
	return handler(ctx, msg)
}
