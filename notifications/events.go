package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventBookingCreated         EventType = "booking.created"
	EventBookingConfirmed       EventType = "booking.confirmed"
	EventBookingCancelled       EventType = "booking.cancelled"
	EventPaymentFailed          EventType = "payment.failed"
	EventPaymentPendingReminder EventType = "payment.pending_reminder"
	EventSessionReminder        EventType = "session.reminder"
)

// Payload is everything a notification may mention about a booking. It
// never carries card or payment method details.
type Payload struct {
	BookingID     uuid.UUID `json:"booking_id"`
	SessionID     uuid.UUID `json:"session_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	CourseTitle   string    `json:"course_title"`
	Location      string    `json:"location,omitempty"`
	SessionStart  time.Time `json:"session_start"`
	SeatCount     int       `json:"seat_count"`
	AmountPence   int64     `json:"amount_pence"`
	Currency      string    `json:"currency"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Payload   `json:"payload"`
}

func NewEvent(t EventType, p Payload) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Payload:    p,
	}
}

// Dispatcher is a one-way send. Implementations must not block the caller
// on delivery and must not report delivery failures back to it.
type Dispatcher interface {
	Notify(event EventType, payload Payload)
}

// Handler delivers one event, typically by email.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Nop drops every event. Used when notifications are switched off.
type Nop struct{}

func (Nop) Notify(EventType, Payload) {}
