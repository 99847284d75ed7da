package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"
)

var _ Bus = (*Nats[any])(nil)

// Nats publishes JSON encoded messages and decodes received ones into T
type Nats[T any] struct {
	nc     *nats.Conn
	logger hclog.Logger
}

func NewNatsBus[T any](url string, logger hclog.Logger, opts ...nats.Option) (*Nats[T], error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Nats[T]{nc: nc, logger: logger}, nil
}

func (eb *Nats[T]) Publish(topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	return eb.nc.Publish(topic, data)
}

func (eb *Nats[T]) Subscribe(topic string, handler MessageReceiver) error {
	_, err := eb.nc.Subscribe(topic, eb.consumedMessages(context.Background(), handler.Receive))
	return err
}

func (eb *Nats[T]) consumedMessages(ctx context.Context, receiver func(ctx context.Context, msg any)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		v, err := deserialize[T](msg)
		if err != nil {
			eb.logger.Warn("dropping undecodable message", "subject", msg.Subject, "error", err)
			return
		}
		receiver(ctx, v)
	}
}

// Flush waits until the server processed every published message
func (eb *Nats[T]) Flush() error {
	return eb.nc.Flush()
}

func (eb *Nats[T]) Close() error {
	return eb.nc.Drain()
}

func deserialize[T any](message *nats.Msg) (T, error) {
	var msg T
	err := json.Unmarshal(message.Data, &msg)
	return msg, err
}
