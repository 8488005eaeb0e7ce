package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"

	"eventAdmission/internal/model"
)

// Notifications are routed by kind, e.g. "registration.promoted".
var defaultBindings = []string{"registration.*", "event.*"}

// channel is the part of *amqp.Channel the client uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Client struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	queue    string

	pubMu sync.Mutex
}

func NewRabbit(url, exchange, queue string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to connect to RabbitMQ")
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		zlog.Logger.Error().Err(err).Msg("failed to open RabbitMQ channel")
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return newClient(conn, ch, exchange, queue)
}

// newClient declares the exchange, the queue and its bindings on ch.
func newClient(conn *amqp.Connection, ch channel, exchange, queue string) (*Client, error) {
	client := &Client{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		queue:    queue,
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare exchange")
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare queue")
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range defaultBindings {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			client.Close()
			zlog.Logger.Error().Err(err).Str("key", key).Msg("failed to bind queue")
			return nil, fmt.Errorf("bind queue: %w", err)
		}
	}

	zlog.Logger.Info().Str("exchange", exchange).Str("queue", queue).Msg("RabbitMQ initialized")
	return client, nil
}

func (c *Client) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	zlog.Logger.Info().Msg("RabbitMQ connection closed")
}

// PublishJSON sends v to the exchange under routing key key.
func (c *Client) PublishJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	err = c.channel.PublishWithContext(ctx,
		c.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("key", key).Msg("failed to publish message to RabbitMQ")
		return err
	}
	zlog.Logger.Debug().Str("exchange", c.exchange).Str("key", key).Msg("message published")
	return nil
}

// Publish sends a notification keyed by its kind.
func (c *Client) Publish(ctx context.Context, n model.Notification) error {
	return c.PublishJSON(ctx, string(n.Kind), n)
}

// Consume delivers queue messages to handler until the channel closes. A
// handler error requeues the message once; a redelivered failure is dropped.
func (c *Client) Consume(handler func([]byte) error) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to start consuming messages")
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				zlog.Logger.Warn().Err(err).Bool("redelivered", d.Redelivered).Msg("failed to process message")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}()

	zlog.Logger.Info().Str("queue", c.queue).Msg("started consuming")
	return nil
}
