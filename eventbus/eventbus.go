// Package eventbus publishes messages to topic subscribers, in process or
// over NATS. Units of work publish their commit events through a Bus.
package eventbus

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("event bus closed")

type Bus interface {
	Publish(topic string, msg any) error
	Subscribe(topic string, handler MessageReceiver) error
	Close() error
}

type MessageReceiver interface {
	Receive(ctx context.Context, msg any)
}

// ReceiverFunc adapts a function to MessageReceiver
type ReceiverFunc func(ctx context.Context, msg any)

func (f ReceiverFunc) Receive(ctx context.Context, msg any) {
	f(ctx, msg)
}
