// Package messaging wraps the AMQP broker connection used for transaction
// lifecycle events and budget alerts. Consumption is manual-ack: a message is
// acknowledged only after its handler (and the database commit inside it)
// succeeded, so broker redelivery covers every failure before that point.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"coinsight/internal/logger"
)

// ErrReject marks a handler failure that will never succeed on retry.
// The message is rejected without requeueing, which routes it to the
// queue's dead-letter exchange when one is configured.
var ErrReject = errors.New("reject message")

// Header keys carrying the producer-stamped delivery coordinate. The
// coordinate makes the dedup identifier stable across broker redeliveries.
const (
	headerPartition = "x-partition"
	headerOffset    = "x-offset"
)

// Delivery is one inbound message plus its delivery coordinate.
type Delivery struct {
	Body      []byte
	Partition int32
	Offset    int64
}

// Handler processes one delivery. A nil return acknowledges the message;
// an error wrapping ErrReject dead-letters it; any other error requeues it.
type Handler func(ctx context.Context, d Delivery) error

// Client owns one connection and channel to the broker.
type Client struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewClient connects to the broker and declares the event exchange plus the
// given queues, each bound to the exchange by its own name as routing key.
func NewClient(url, exchange string, queues ...string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}

	if err := client.setup(queues); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup(queues []string) error {
	err := c.channel.ExchangeDeclare(
		c.exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range queues {
		if _, err := c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		if err := c.channel.QueueBind(queue, queue, c.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// Publish sends a persistent message to the given queue via the event exchange.
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchange, // exchange
		queue,      // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	return nil
}

// Consume runs a sequential consumption loop on the given queue until ctx is
// cancelled. Each message is processed to completion before the next is read;
// ordering within the queue is preserved.
func (c *Client) Consume(ctx context.Context, queue string, handler Handler) error {
	msgs, err := c.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", queue, err)
	}

	log := logger.Get()
	log.Infow("started consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			log.Infow("stopping consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed for queue %s", queue)
			}

			err := handler(ctx, Delivery{
				Body:      msg.Body,
				Partition: partitionOf(msg),
				Offset:    offsetOf(msg),
			})
			switch {
			case err == nil:
				_ = msg.Ack(false)
			case errors.Is(err, ErrReject):
				log.Errorw("rejecting message", "queue", queue, "error", err)
				_ = msg.Nack(false, false) // dead-letter, don't requeue
			default:
				log.Errorw("message handling failed, requeueing", "queue", queue, "error", err)
				_ = msg.Nack(false, true) // transient: requeue for redelivery
			}
		}
	}
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// partitionOf reads the producer-stamped partition header, defaulting to 0.
func partitionOf(msg amqp091.Delivery) int32 {
	if v, ok := msg.Headers[headerPartition]; ok {
		if n, ok := asInt64(v); ok {
			return int32(n)
		}
	}
	return 0
}

// offsetOf reads the producer-stamped offset header. Without one, the broker
// delivery tag is the best available stand-in; it is not stable across
// redeliveries, so producers should always stamp the header.
func offsetOf(msg amqp091.Delivery) int64 {
	if v, ok := msg.Headers[headerOffset]; ok {
		if n, ok := asInt64(v); ok {
			return n
		}
	}
	logger.Get().Warnw("message missing offset header, falling back to delivery tag",
		"delivery_tag", msg.DeliveryTag)
	return int64(msg.DeliveryTag)
}

// asInt64 normalizes the integer types AMQP header tables may carry.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}
