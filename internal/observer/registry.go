package observer

import (
	"fmt"
	"slices"
	"sync"
	"weak"

	"github.com/zjrosen/fanout/internal/log"
)

type bucket[T any] map[HandleID]weak.Pointer[Mailbox[T]]

// Registry maps topics to the mailboxes subscribed to them, plus a bucket
// of mailboxes subscribed to every topic. It only holds weak references:
// registering a mailbox never keeps it alive.
//
// Registry is safe for concurrent use. Lookups return copies.
type Registry[T any] struct {
	mu     sync.RWMutex
	topics map[Topic]bucket[T]
	all    bucket[T]
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		topics: make(map[Topic]bucket[T]),
		all:    make(bucket[T]),
	}
}

// Register adds h under topic.
func (r *Registry[T]) Register(topic Topic, h *Mailbox[T]) error {
	if err := topic.Validate(); err != nil {
		return err
	}
	if h == nil {
		return ErrNilHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.topics[topic]
	if !ok {
		b = make(bucket[T])
		r.topics[topic] = b
	}
	if _, exists := b[h.ID()]; exists {
		return fmt.Errorf("%w: %s on topic %q", ErrAlreadyRegistered, h, topic)
	}
	b[h.ID()] = weak.Make(h)
	log.Debug(log.CatRegistry, "registered", "handle", h.String(), "topic", topic)
	return nil
}

// Unregister removes h from topic.
func (r *Registry[T]) Unregister(topic Topic, h *Mailbox[T]) error {
	if err := topic.Validate(); err != nil {
		return err
	}
	if h == nil {
		return ErrNilHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.topics[topic]
	if _, exists := b[h.ID()]; !exists {
		return fmt.Errorf("%w: %s on topic %q", ErrNotFound, h, topic)
	}
	delete(b, h.ID())
	if len(b) == 0 {
		delete(r.topics, topic)
	}
	log.Debug(log.CatRegistry, "unregistered", "handle", h.String(), "topic", topic)
	return nil
}

// RegisterAll adds h to the all-topics bucket.
func (r *Registry[T]) RegisterAll(h *Mailbox[T]) error {
	if h == nil {
		return ErrNilHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.all[h.ID()]; exists {
		return fmt.Errorf("%w: %s on all topics", ErrAlreadyRegistered, h)
	}
	r.all[h.ID()] = weak.Make(h)
	log.Debug(log.CatRegistry, "registered", "handle", h.String(), "topic", "*")
	return nil
}

// UnregisterAll removes h from the all-topics bucket.
func (r *Registry[T]) UnregisterAll(h *Mailbox[T]) error {
	if h == nil {
		return ErrNilHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.all[h.ID()]; !exists {
		return fmt.Errorf("%w: %s on all topics", ErrNotFound, h)
	}
	delete(r.all, h.ID())
	log.Debug(log.CatRegistry, "unregistered", "handle", h.String(), "topic", "*")
	return nil
}

// RemoveHandle drops every registration held by id and returns how many
// there were.
func (r *Registry[T]) RemoveHandle(id HandleID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry[T]) removeLocked(id HandleID) int {
	n := 0
	if _, ok := r.all[id]; ok {
		delete(r.all, id)
		n++
	}
	for topic, b := range r.topics {
		if _, ok := b[id]; ok {
			delete(b, id)
			n++
			if len(b) == 0 {
				delete(r.topics, topic)
			}
		}
	}
	return n
}

// Lookup returns the live mailboxes registered for exactly topic.
func (r *Registry[T]) Lookup(topic Topic) []*Mailbox[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live, _ := resolve(r.topics[topic], nil, nil)
	return live
}

// LookupAll returns the live mailboxes in the all-topics bucket.
func (r *Registry[T]) LookupAll() []*Mailbox[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live, _ := resolve(r.all, nil, nil)
	return live
}

// Snapshot returns the recipients of a publish on topic: the union of the
// topic bucket and the all-topics bucket, each handle at most once. Entries
// whose mailbox has been collected are returned as stale IDs.
func (r *Registry[T]) Snapshot(topic Topic) (live []*Mailbox[T], stale []HandleID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[HandleID]struct{})
	live, stale = resolve(r.topics[topic], seen, nil)
	more, moreStale := resolve(r.all, seen, stale)
	return append(live, more...), moreStale
}

// resolve dereferences the weak pointers of b, skipping IDs already in seen
// and appending collected ones to stale.
func resolve[T any](b bucket[T], seen map[HandleID]struct{}, stale []HandleID) ([]*Mailbox[T], []HandleID) {
	live := make([]*Mailbox[T], 0, len(b))
	for id, ref := range b {
		if seen != nil {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		if h := ref.Value(); h != nil {
			live = append(live, h)
		} else {
			stale = append(stale, id)
		}
	}
	return live, stale
}

// Topics lists the topics id is registered under, sorted. The all-topics
// bucket is reported by IsAll.
func (r *Registry[T]) Topics(id HandleID) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Topic
	for topic, b := range r.topics {
		if _, ok := b[id]; ok {
			out = append(out, topic)
		}
	}
	slices.Sort(out)
	return out
}

// IsAll reports whether id is in the all-topics bucket.
func (r *Registry[T]) IsAll(id HandleID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.all[id]
	return ok
}

// Len returns the number of (handle, topic) registrations, counting the
// all-topics bucket as one topic.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.all)
	for _, b := range r.topics {
		n += len(b)
	}
	return n
}

// Prune removes registrations whose mailbox has been collected.
func (r *Registry[T]) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []HandleID
	collect := func(b bucket[T]) {
		for id, ref := range b {
			if ref.Value() == nil {
				dead = append(dead, id)
			}
		}
	}
	collect(r.all)
	for _, b := range r.topics {
		collect(b)
	}

	n := 0
	for _, id := range dead {
		n += r.removeLocked(id)
	}
	if n > 0 {
		log.Debug(log.CatRegistry, "pruned stale handles", "count", n)
	}
	return n
}

// Clear drops every registration.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = make(map[Topic]bucket[T])
	r.all = make(bucket[T])
}
