package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReconcileOutcome string

const (
	// OutcomeNoop means the record was already terminal.
	OutcomeNoop ReconcileOutcome = "noop"
	// OutcomePending means the gateway still reports a non-terminal state.
	OutcomePending ReconcileOutcome = "pending"
	// OutcomeRecorded means a terminal status was stored without touching
	// the booking, e.g. for a superseded attempt or a cancelled booking.
	OutcomeRecorded  ReconcileOutcome = "recorded"
	OutcomeConfirmed ReconcileOutcome = "confirmed"
	OutcomeFailed    ReconcileOutcome = "failed"
)

// Reconciliation sources, used for logs and metrics.
const (
	SourceConfirmation = "confirmation"
	SourceWebhook      = "webhook"
	SourceRecovery     = "recovery"
)

// ApplyOption adjusts how Apply records a status that is not terminal yet.
type ApplyOption func(*applyOptions)

type applyOptions struct {
	attempts  int
	nextCheck *time.Time
}

// WithNextCheck stores the caller's backoff in the same update that
// records a still-pending status.
func WithNextCheck(attempts int, at time.Time) ApplyOption {
	return func(o *applyOptions) {
		o.attempts = attempts
		o.nextCheck = &at
	}
}

// PaymentReconciler moves payment records to the status the gateway
// reports and applies the consequence to the booking. It is the only
// writer of terminal payment statuses and is safe to call repeatedly.
type PaymentReconciler struct {
	db           *gorm.DB
	ledger       *CapacityLedger
	invoices     *InvoiceService
	gateway      payments.Gateway
	dispatcher   notifications.Dispatcher
	availability AvailabilityPublisher
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewPaymentReconciler(
	db *gorm.DB,
	ledger *CapacityLedger,
	invoices *InvoiceService,
	gateway payments.Gateway,
	dispatcher notifications.Dispatcher,
	availability AvailabilityPublisher,
	log logrus.FieldLogger,
) *PaymentReconciler {
	if availability == nil {
		availability = nopAvailability{}
	}
	if dispatcher == nil {
		dispatcher = notifications.Nop{}
	}
	return &PaymentReconciler{
		db:           db,
		ledger:       ledger,
		invoices:     invoices,
		gateway:      gateway,
		dispatcher:   dispatcher,
		availability: availability,
		log:          log,
		now:          time.Now,
	}
}

// Apply records status for the payment. Locks are taken booking first,
// then payment, then session, the same order CancelBooking uses. A success
// that arrives for a booking no longer awaiting it is refunded.
func (r *PaymentReconciler) Apply(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, reason, source string, opts ...ApplyOption) (ReconcileOutcome, error) {
	if !status.Valid() {
		return "", fmt.Errorf("unknown payment status %q", status)
	}
	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	var current models.Payment
	err := r.db.WithContext(ctx).First(&current, "id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrPaymentNotFound
	}
	if err != nil {
		return "", err
	}
	if current.Status.IsTerminal() {
		metrics.ReconciliationsTotal.WithLabelValues(source, string(OutcomeNoop)).Inc()
		return OutcomeNoop, nil
	}

	var (
		outcome  ReconcileOutcome
		invoice   *models.Invoice
		released  *Availability
		refundDue *models.Payment
	)
	fields := logrus.Fields{
		"payment_id": paymentID,
		"booking_id": current.BookingID,
		"intent_id":  current.GatewayIntentID,
		"status":     status,
		"source":     source,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&booking, "id = ?", current.BookingID).Error; err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}
		var payment models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, "id = ?", paymentID).Error; err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}

		// Another writer may have finished this record since the first read.
		if payment.Status.IsTerminal() {
			outcome = OutcomeNoop
			return nil
		}

		now := r.now().UTC()
		updates := map[string]any{"last_checked_at": now}

		if !status.IsTerminal() {
			outcome = OutcomePending
			if status != payment.Status {
				updates["status"] = status
			}
			if o.nextCheck != nil {
				updates["check_attempts"] = o.attempts
				updates["next_check_at"] = *o.nextCheck
			}
			return tx.Model(&payment).Updates(updates).Error
		}

		updates["status"] = status
		updates["next_check_at"] = nil
		if reason != "" {
			updates["failure_reason"] = reason
		}
		if err := tx.Model(&payment).Updates(updates).Error; err != nil {
			return err
		}

		if !payment.Active || booking.Status != models.BookingPending {
			outcome = OutcomeRecorded
			if status == models.PaymentSucceeded && payment.RefundID == nil {
				r.log.WithFields(fields).WithField("booking_status", booking.Status).
					Warn("payment succeeded for a booking that is no longer awaiting it, refunding")
				refundDue = &payment
			}
			return nil
		}

		switch status {
		case models.PaymentSucceeded:
			if err := tx.Model(&booking).Updates(map[string]any{
				"status":       models.BookingConfirmed,
				"confirmed_at": now,
			}).Error; err != nil {
				return err
			}
			if r.invoices != nil {
				inv, err := r.invoices.Issue(ctx, tx, booking, now)
				if err != nil {
					return fmt.Errorf("issue invoice: %w", err)
				}
				invoice = inv
			}
			outcome = OutcomeConfirmed

		default:
			if err := tx.Model(&booking).Update("status", models.BookingPaymentFailed).Error; err != nil {
				return err
			}
			avail, err := r.ledger.Release(ctx, tx, booking.SessionID, booking.SeatCount)
			if err != nil {
				return err
			}
			released = &avail
			outcome = OutcomeFailed
		}
		return nil
	})
	if err != nil {
		r.log.WithFields(fields).WithError(err).Error("🔥 Payment reconciliation failed")
		return "", err
	}

	metrics.ReconciliationsTotal.WithLabelValues(source, string(outcome)).Inc()
	if refundDue != nil {
		// A failed refund is logged by refundPayment; the status is stored
		// either way.
		_, _ = refundPayment(ctx, r.db, r.gateway, r.log, *refundDue)
	}
	r.afterCommit(ctx, current.BookingID, outcome, invoice, released, reason, fields)
	return outcome, nil
}

func (r *PaymentReconciler) afterCommit(ctx context.Context, bookingID uuid.UUID, outcome ReconcileOutcome, invoice *models.Invoice, released *Availability, reason string, fields logrus.Fields) {
	if outcome != OutcomeConfirmed && outcome != OutcomeFailed {
		return
	}

	if released != nil {
		r.availability.PublishAvailability(*released)
	}

	var booking models.Booking
	err := r.db.WithContext(ctx).Preload("Session").Preload("Customer").First(&booking, "id = ?", bookingID).Error
	if err != nil {
		r.log.WithFields(fields).WithError(err).Error("🔥 Failed to load booking for notification")
		return
	}

	payload := bookingPayload(booking)
	if outcome == OutcomeConfirmed {
		if invoice != nil {
			payload.InvoiceNumber = invoice.Number
		}
		r.log.WithFields(fields).Info("✅ Booking confirmed")
		r.dispatcher.Notify(notifications.EventBookingConfirmed, payload)
		return
	}

	payload.Reason = reason
	r.log.WithFields(fields).Warn("payment failed, seats released")
	r.dispatcher.Notify(notifications.EventPaymentFailed, payload)
}

// ApplyByIntent reconciles using a status the gateway pushed to us, such as
// a verified webhook event.
func (r *PaymentReconciler) ApplyByIntent(ctx context.Context, intentID string, status models.PaymentStatus, reason, source string, opts ...ApplyOption) (ReconcileOutcome, error) {
	payment, err := r.paymentByIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	return r.Apply(ctx, payment.ID, status, reason, source, opts...)
}

// ConfirmByIntent is the synchronous confirmation path: it asks the gateway
// for the authoritative status and applies it.
func (r *PaymentReconciler) ConfirmByIntent(ctx context.Context, intentID string) (ReconcileOutcome, error) {
	payment, err := r.paymentByIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	if payment.Status.IsTerminal() {
		return OutcomeNoop, nil
	}

	intent, err := r.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	return r.Apply(ctx, payment.ID, intent.Status, intent.FailureReason, SourceConfirmation)
}

func (r *PaymentReconciler) paymentByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).First(&payment, "gateway_intent_id = ?", intentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
