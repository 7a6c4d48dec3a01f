package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInsufficientSeats     = errors.New("insufficient seats")
	ErrSessionNotFound       = errors.New("session not found")
	ErrValidationFailed      = errors.New("validation failed")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrBookingNotCancellable = errors.New("booking cannot be cancelled in its current state")
	ErrBookingNotPayable     = errors.New("booking is not awaiting payment")

	// errDuplicatePayment never leaves the package: a duplicate payment
	// reference is answered with the existing booking.
	errDuplicatePayment = errors.New("duplicate payment reference")
)

type CapacityErrorKind int

const (
	InsufficientSeats CapacityErrorKind = iota + 1
	SessionNotFound
)

func (k CapacityErrorKind) String() string {
	switch k {
	case InsufficientSeats:
		return "insufficient_seats"
	case SessionNotFound:
		return "session_not_found"
	}
	return "unknown"
}

type CapacityError struct {
	Kind      CapacityErrorKind
	SessionID uuid.UUID
	Requested int
	Remaining int
}

func (e *CapacityError) Error() string {
	switch e.Kind {
	case InsufficientSeats:
		return fmt.Sprintf("session %s: requested %d seats, %d remaining", e.SessionID, e.Requested, e.Remaining)
	case SessionNotFound:
		return fmt.Sprintf("session %s not found", e.SessionID)
	}
	return fmt.Sprintf("session %s: capacity error", e.SessionID)
}

func (e *CapacityError) Unwrap() error {
	switch e.Kind {
	case InsufficientSeats:
		return ErrInsufficientSeats
	case SessionNotFound:
		return ErrSessionNotFound
	}
	return nil
}

// ValidationError carries per-field messages keyed by the JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
