package engine

import (
	"context"
	"sync"
)

// NotificationConsumer is an Executor fed by a channel rather than a table.
// Items are handed to the handler in arrival order and never merged or
// retried.
//
// A background goroutine started by the Dispatcher moves items from the
// channel into a buffer and wakes the executor; the handler itself runs on
// the Dispatcher goroutine like every other executor.
type NotificationConsumer[T any] struct {
	name    string
	ch      <-chan T
	handler func(ctx context.Context, item T) error

	mu   sync.Mutex
	buf  []T
	wake func()
}

// NewNotificationConsumer creates an executor named name that handles items
// received on ch.
func NewNotificationConsumer[T any](name string, ch <-chan T, handler func(ctx context.Context, item T) error) *NotificationConsumer[T] {
	return &NotificationConsumer[T]{name: name, ch: ch, handler: handler}
}

// Name returns the executor name.
func (n *NotificationConsumer[T]) Name() string { return n.name }

// Push buffers an item as if it had been received on the channel.
func (n *NotificationConsumer[T]) Push(item T) {
	n.mu.Lock()
	n.buf = append(n.buf, item)
	wake := n.wake
	n.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// Len returns the number of buffered items.
func (n *NotificationConsumer[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.buf)
}

// Execute handles every buffered item.
func (n *NotificationConsumer[T]) Execute(ctx context.Context) error {
	return n.Drain(ctx)
}

// Drain handles every buffered item. On error the unhandled items stay
// buffered.
func (n *NotificationConsumer[T]) Drain(ctx context.Context) error {
	n.mu.Lock()
	items := n.buf
	n.buf = nil
	n.mu.Unlock()

	for i, item := range items {
		if err := n.handler(ctx, item); err != nil {
			n.mu.Lock()
			n.buf = append(items[i+1:len(items):len(items)], n.buf...)
			n.mu.Unlock()
			return err
		}
	}
	return nil
}

func (n *NotificationConsumer[T]) bind(d *Dispatcher) {
	n.mu.Lock()
	n.wake = func() { d.Wake(n.name) }
	n.mu.Unlock()
}

// runBackground forwards channel items into the buffer until ctx is done or
// the channel closes.
func (n *NotificationConsumer[T]) runBackground(ctx context.Context) {
	if n.ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-n.ch:
			if !ok {
				return
			}
			n.Push(item)
		}
	}
}
