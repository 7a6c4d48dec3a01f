package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/sirupsen/logrus"
)

const defaultHandleTimeout = 30 * time.Second

// AsyncDispatcher hands events to a Handler on a fixed pool of workers. A
// full queue drops the event instead of blocking the caller.
type AsyncDispatcher struct {
	handler Handler
	log     logrus.FieldLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(handler Handler, workers, queueSize int, log logrus.FieldLogger) *AsyncDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &AsyncDispatcher{
		handler: handler,
		log:     log,
		timeout: defaultHandleTimeout,
		queue:   make(chan Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *AsyncDispatcher) Notify(event EventType, payload Payload) {
	d.Enqueue(NewEvent(event, payload))
}

func (d *AsyncDispatcher) Enqueue(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.WithFields(logrus.Fields{"event": ev.Type, "event_id": ev.ID}).
			Warn("notification dropped, dispatcher closed")
		metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.log.WithFields(logrus.Fields{"event": ev.Type, "event_id": ev.ID}).
			Warn("notification dropped, queue full")
		metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.handle(ev)
	}
}

func (d *AsyncDispatcher) handle(ev Event) {
	fields := logrus.Fields{"event": ev.Type, "event_id": ev.ID, "booking_id": ev.Payload.BookingID}
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(fields).WithField("panic", r).Error("notification handler panicked")
			metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.handler.Handle(ctx, ev); err != nil {
		d.log.WithFields(fields).WithError(err).Error("🔥 Failed to deliver notification")
		metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "sent").Inc()
}

// Close stops accepting events and waits for queued ones to be handled.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
