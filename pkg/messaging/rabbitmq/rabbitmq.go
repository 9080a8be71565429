package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jwalitptl/health-ledger/pkg/messaging"
)

type Config struct {
	URL      string
	Exchange string
	Queue    string
}

// RabbitBroker publishes to a durable direct exchange. The topic passed to
// Publish and Subscribe is the routing key.
type RabbitBroker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
}

var _ messaging.Broker = (*RabbitBroker)(nil)

func NewRabbitBroker(config Config) (*RabbitBroker, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(config.Exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", config.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitBroker{
		conn:     conn,
		channel:  ch,
		exchange: config.Exchange,
		queue:    config.Queue,
	}, nil
}

func (b *RabbitBroker) Publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	confirm, err := b.channel.PublishWithDeferredConfirmWithContext(ctx,
		b.exchange,
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message on %s", routingKey)
	}
	return nil
}

// Subscribe binds the configured durable queue to routingKey and streams
// message bodies. Deliveries are acknowledged once handed over.
func (b *RabbitBroker) Subscribe(ctx context.Context, routingKey string) (<-chan []byte, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", b.queue, err)
	}
	if err := ch.QueueBind(b.queue, routingKey, b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", b.queue, err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", b.queue, err)
	}

	out := make(chan []byte, 100)
	go func() {
		defer func() {
			ch.Close()
			close(out)
		}()
		for d := range deliveries {
			select {
			case out <- d.Body:
				d.Ack(false)
			case <-ctx.Done():
				d.Nack(false, true)
				return
			}
		}
	}()

	return out, nil
}

func (b *RabbitBroker) Close() error {
	if err := b.channel.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
