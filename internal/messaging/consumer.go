package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	amqp "github.com/streadway/amqp"

	"networth-api/internal/config"
)

// Consumer reads ledger events from RabbitMQ and hands them to an
// EventProcessor.
type Consumer struct {
	config    config.RabbitMQConfig
	processor *EventProcessor
	logger    *logrus.Entry

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewConsumer(cfg config.RabbitMQConfig, processor *EventProcessor, logger *logrus.Logger) *Consumer {
	return &Consumer{
		config:    cfg,
		processor: processor,
		logger:    logger.WithField("component", "ledger_consumer"),
	}
}

func (c *Consumer) url() string {
	if c.config.URL != "" {
		return c.config.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.Username, c.config.Password, c.config.Host, c.config.Port, c.config.VHost)
}

// connect dials, declares the topology and returns the delivery channel.
func (c *Consumer) connect() (<-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(c.url())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(step string, err error) (<-chan amqp.Delivery, error) {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	err = channel.ExchangeDeclare(
		c.config.LedgerExchange, // name
		"topic",                 // type
		true,                    // durable
		false,                   // auto-deleted
		false,                   // internal
		false,                   // no-wait
		nil,                     // arguments
	)
	if err != nil {
		return fail("declare exchange", err)
	}

	queue, err := channel.QueueDeclare(
		c.config.LedgerQueue, // name
		true,                 // durable
		false,                // delete when unused
		false,                // exclusive
		false,                // no-wait
		nil,
	)
	if err != nil {
		return fail("declare queue", err)
	}

	if err := channel.QueueBind(queue.Name, c.config.LedgerRoutingKey, c.config.LedgerExchange, false, nil); err != nil {
		return fail("bind queue", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return fail("set qos", err)
		}
	}

	msgs, err := channel.Consume(
		queue.Name,           // queue
		c.config.ConsumerTag, // consumer tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,                  // args
	)
	if err != nil {
		return fail("register consumer", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()

	return msgs, nil
}

// Start connects and consumes in the background, reconnecting when the
// broker drops the connection.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.connect()
	if err != nil {
		return err
	}
	c.logger.WithField("queue", c.config.LedgerQueue).Info("Ledger event consumer started")

	go c.loop(ctx, msgs)
	return nil
}

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		c.consume(ctx, msgs)
		if ctx.Err() != nil {
			return
		}

		var err error
		msgs, err = c.reconnect(ctx)
		if err != nil {
			c.logger.WithError(err).Error("Ledger event consumer gave up reconnecting")
			return
		}
	}
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Ledger event consumer shutting down")
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Message channel closed")
				return
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, msg amqp.Delivery) {
	err := c.processor.Handle(ctx, msg.Body)
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, ErrInvalidEvent):
		c.logger.WithError(err).Warn("Dropping invalid ledger event")
		msg.Nack(false, false)
	default:
		c.logger.WithError(err).Error("Ledger event failed, requeueing")
		msg.Nack(false, true)
	}
}

func (c *Consumer) reconnect(ctx context.Context) (<-chan amqp.Delivery, error) {
	c.closeConnection()

	attempts := c.config.MaxReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.config.ReconnectDelay):
		}

		msgs, err := c.connect()
		if err == nil {
			c.logger.WithField("attempt", i).Info("Ledger event consumer reconnected")
			return msgs, nil
		}
		lastErr = err
		c.logger.WithError(err).WithField("attempt", i).Warn("Reconnect failed")
	}
	return nil, lastErr
}

func (c *Consumer) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Stop closes the connection; the consume loop exits once ctx is cancelled.
func (c *Consumer) Stop() error {
	c.closeConnection()
	c.logger.Info("Ledger event consumer stopped")
	return nil
}
