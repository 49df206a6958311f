package observers

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/observer"
)

// Crossing says which way a threshold was crossed.
type Crossing string

const (
	CrossedAbove Crossing = "above-high"
	CrossedBelow Crossing = "below-low"
	Recovered    Crossing = "recovered"
)

// Alert is raised when a value crosses a threshold.
type Alert[N cmp.Ordered] struct {
	Topic     observer.Topic
	Crossing  Crossing
	Threshold N
	Old       N
	New       N
	Seq       uint64
	At        time.Time
}

func (a Alert[N]) String() string {
	return fmt.Sprintf("%s %s %v (old=%v new=%v)", a.Topic, a.Crossing, a.Threshold, a.Old, a.New)
}

// ThresholdOption configures a ThresholdAlert.
type ThresholdOption[N cmp.Ordered] func(*ThresholdAlert[N])

// WithHigh alerts when a value rises to or above v.
func WithHigh[N cmp.Ordered](v N) ThresholdOption[N] {
	return func(a *ThresholdAlert[N]) {
		a.high, a.hasHigh = v, true
	}
}

// WithLow alerts when a value falls to or below v.
func WithLow[N cmp.Ordered](v N) ThresholdOption[N] {
	return func(a *ThresholdAlert[N]) {
		a.low, a.hasLow = v, true
	}
}

// WithRecovery also alerts when a value moves back inside the thresholds.
func WithRecovery[N cmp.Ordered]() ThresholdOption[N] {
	return func(a *ThresholdAlert[N]) {
		a.recovery = true
	}
}

// ThresholdAlert watches Change notifications and fires when the new value
// is on the other side of a threshold from the old one. A change that stays
// on the same side never fires, and neither does the first value of a topic.
type ThresholdAlert[N cmp.Ordered] struct {
	name     string
	high     N
	low      N
	hasHigh  bool
	hasLow   bool
	recovery bool
	notify   func(context.Context, Alert[N]) error

	mu    sync.Mutex
	fired []Alert[N]
}

// NewThresholdAlert returns a ThresholdAlert that passes each alert to
// notify. notify may be nil; fired alerts are always kept for Alerts.
func NewThresholdAlert[N cmp.Ordered](name string, notify func(context.Context, Alert[N]) error, opts ...ThresholdOption[N]) *ThresholdAlert[N] {
	a := &ThresholdAlert[N]{name: name, notify: notify}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *ThresholdAlert[N]) HandleNotification(ctx context.Context, msg observer.Message[observer.Change[N]]) error {
	c := msg.Payload
	if !c.HadOld {
		return nil
	}

	for _, alert := range a.crossings(c) {
		alert.Topic = msg.Topic
		alert.Seq = msg.Seq
		alert.At = msg.Timestamp

		a.mu.Lock()
		a.fired = append(a.fired, alert)
		a.mu.Unlock()

		log.Info(log.CatObserver, "threshold crossed", "alert", a.name, "topic", alert.Topic,
			"crossing", alert.Crossing, "threshold", alert.Threshold, "old", alert.Old, "new", alert.New)
		if a.notify != nil {
			if err := a.notify(ctx, alert); err != nil {
				return fmt.Errorf("alert %s: %w", a.name, err)
			}
		}
	}
	return nil
}

func (a *ThresholdAlert[N]) crossings(c observer.Change[N]) []Alert[N] {
	var out []Alert[N]
	add := func(kind Crossing, threshold N) {
		out = append(out, Alert[N]{Crossing: kind, Threshold: threshold, Old: c.Old, New: c.New})
	}

	if a.hasHigh {
		switch {
		case c.Old < a.high && c.New >= a.high:
			add(CrossedAbove, a.high)
		case a.recovery && c.Old >= a.high && c.New < a.high:
			add(Recovered, a.high)
		}
	}
	if a.hasLow {
		switch {
		case c.Old > a.low && c.New <= a.low:
			add(CrossedBelow, a.low)
		case a.recovery && c.Old <= a.low && c.New > a.low:
			add(Recovered, a.low)
		}
	}
	return out
}

// Alerts returns every alert fired so far.
func (a *ThresholdAlert[N]) Alerts() []Alert[N] {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert[N], len(a.fired))
	copy(out, a.fired)
	return out
}
