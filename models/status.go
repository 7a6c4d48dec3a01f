package models

type BookingStatus string

const (
	BookingPending       BookingStatus = "pending"
	BookingConfirmed     BookingStatus = "confirmed"
	BookingCancelled     BookingStatus = "cancelled"
	BookingPaymentFailed BookingStatus = "payment_failed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingPaymentFailed:
		return true
	}
	return false
}

// HoldsSeats reports whether a booking in this status still owns its seats
// in the session's capacity ledger.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingPending || s == BookingConfirmed
}

type PaymentStatus string

const (
	PaymentPending        PaymentStatus = "pending"
	PaymentProcessing     PaymentStatus = "processing"
	PaymentRequiresAction PaymentStatus = "requires_action"
	PaymentSucceeded      PaymentStatus = "succeeded"
	PaymentFailed         PaymentStatus = "failed"
	PaymentCanceled       PaymentStatus = "canceled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentRequiresAction,
		PaymentSucceeded, PaymentFailed, PaymentCanceled:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed || s == PaymentCanceled
}

// NonTerminalPaymentStatuses lists the states the recovery loop polls.
func NonTerminalPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentPending, PaymentProcessing, PaymentRequiresAction}
}
