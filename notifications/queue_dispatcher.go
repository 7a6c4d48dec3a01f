package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	amqp "github.com/rabbitmq/amqp091-go"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 10 * time.Second

// EventSink accepts an already built event for local delivery.
type EventSink interface {
	Enqueue(ev Event)
}

// QueueDispatcher publishes events to a durable RabbitMQ queue. Events that
// cannot be published are handed to the fallback sink so the customer still
// gets their email from this process.
type QueueDispatcher struct {
	cfg      config.RabbitMQ
	fallback EventSink
	log      logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	wg sync.WaitGroup
}

func NewQueueDispatcher(cfg config.RabbitMQ, fallback EventSink, log logrus.FieldLogger) *QueueDispatcher {
	return &QueueDispatcher{cfg: cfg, fallback: fallback, log: log}
}

func (d *QueueDispatcher) Notify(event EventType, payload Payload) {
	ev := NewEvent(event, payload)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("panic", r).Error("notification publish panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		attempts := d.cfg.Attempts
		if attempts == 0 {
			attempts = 1
		}

		err := retry.Do(
			func() error {
				return d.publish(ctx, ev)
			},
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.Delay(d.cfg.RetryWait),
			retry.LastErrorOnly(true),
		)
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "queued").Inc()
			return
		}

		d.log.WithFields(logrus.Fields{"event": ev.Type, "event_id": ev.ID}).
			WithError(err).Warn("rabbitmq publish failed, delivering in-process")
		if d.fallback != nil {
			d.fallback.Enqueue(ev)
		}
	}()
}

func (d *QueueDispatcher) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("marshal event: %w", err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",          // default exchange
		d.cfg.Queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID.String(),
			Type:         string(ev.Type),
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		d.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (d *QueueDispatcher) channelLocked() (*amqp.Channel, error) {
	if d.ch != nil && !d.ch.IsClosed() {
		return d.ch, nil
	}
	d.resetLocked()

	conn, err := amqp.Dial(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declareQueue(ch, d.cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	d.conn, d.ch = conn, ch
	return ch, nil
}

func (d *QueueDispatcher) resetLocked() {
	if d.ch != nil {
		_ = d.ch.Close()
		d.ch = nil
	}
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

// Close waits for in-flight publishes and closes the broker connection.
func (d *QueueDispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
	return err
}

func declareQueue(ch *amqp.Channel, name string) error {
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}
