package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/seb7887/gofw/stillsuit/wp"
)

var _ Bus = (*InMem)(nil)

// InMem delivers messages asynchronously through a keyed worker pool. Messages
// on one topic reach each subscriber in publish order.
type InMem struct {
	mu       sync.RWMutex
	handlers map[string][]MessageReceiver
	pool     *wp.Pool
	closed   bool
}

func NewInMemBus(workers int, logger hclog.Logger) *InMem {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &InMem{
		handlers: make(map[string][]MessageReceiver),
		pool: wp.NewPool(workers, 100, wp.WithPanicHandler(func(topic string, r any) {
			logger.Error("subscriber panicked", "topic", topic, "panic", fmt.Sprint(r))
		})),
	}
}

func (b *InMem) Publish(topic string, msg any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]MessageReceiver(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}
	return b.pool.Submit(topic, func() {
		for _, h := range handlers {
			h.Receive(context.Background(), msg)
		}
	})
}

func (b *InMem) Subscribe(topic string, handler MessageReceiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Close delivers what was already published and stops the workers
func (b *InMem) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.pool.Stop()
	return nil
}
