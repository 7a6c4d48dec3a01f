package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/sirupsen/logrus"
)

// Consumer reads notification events from RabbitMQ and hands them to a
// Handler. It reconnects with exponential backoff until ctx is cancelled.
type Consumer struct {
	cfg     config.RabbitMQ
	handler Handler
	log     logrus.FieldLogger
}

func NewConsumer(cfg config.RabbitMQ, handler Handler, log logrus.FieldLogger) *Consumer {
	return &Consumer{cfg: cfg, handler: handler, log: log}
}

func (c *Consumer) Run(ctx context.Context) error {
	maxDelay := c.cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.WithError(err).WithField("retry_in", backoff).Warn("notification consumer: failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxDelay {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Warn("notification consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		c.log.WithError(err).Warn("notification consumer: set QoS failed")
	}
	if err := declareQueue(ch, c.cfg.Queue); err != nil {
		return err
	}

	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.log.WithField("queue", c.cfg.Queue).Info("✅ Notification consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.log.WithError(err).WithField("message_id", d.MessageId).Error("notification consumer: handle message failed")
				// reject without requeue so a poison message cannot spin
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	if err := c.handler.Handle(ctx, ev); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "sent").Inc()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
