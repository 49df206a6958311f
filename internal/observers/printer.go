// Package observers holds ready-made Observer implementations.
package observers

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zjrosen/fanout/internal/observer"
)

// Printer writes one line per notification.
type Printer[T any] struct {
	name   string
	format func(observer.Message[T]) string

	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer labelled name writing to w.
func NewPrinter[T any](name string, w io.Writer) *Printer[T] {
	p := &Printer[T]{name: name, w: w}
	p.format = p.defaultFormat
	return p
}

// WithFormat replaces the line formatter.
func (p *Printer[T]) WithFormat(fn func(observer.Message[T]) string) *Printer[T] {
	p.format = fn
	return p
}

func (p *Printer[T]) defaultFormat(msg observer.Message[T]) string {
	return fmt.Sprintf("[%s] notified: topic=%s seq=%d payload=%v", p.name, msg.Topic, msg.Seq, msg.Payload)
}

func (p *Printer[T]) HandleNotification(_ context.Context, msg observer.Message[T]) error {
	line := p.format(msg)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.w, line); err != nil {
		return fmt.Errorf("printer %s: %w", p.name, err)
	}
	return nil
}
