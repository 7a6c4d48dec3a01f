package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// amountTolerancePence absorbs rounding in client side price display.
const amountTolerancePence = 1

type ContactDetails struct {
	FullName    string `json:"full_name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email,max=255"`
	Phone       string `json:"phone" validate:"omitempty,max=50"`
	CompanyName string `json:"company_name" validate:"omitempty,max=255"`
}

type ParticipantDetails struct {
	FullName string `json:"full_name" validate:"required,max=255"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	JobTitle string `json:"job_title" validate:"omitempty,max=255"`
}

type CreateBookingRequest struct {
	SessionID           string               `json:"session_id" validate:"required,uuid"`
	SeatCount           int                  `json:"seat_count" validate:"required,min=1,max=100"`
	Contact             ContactDetails       `json:"contact"`
	Participants        []ParticipantDetails `json:"participants" validate:"omitempty,dive"`
	TotalAmountPence    int64                `json:"total_amount_pence" validate:"required,gt=0"`
	Currency            string               `json:"currency" validate:"omitempty,len=3"`
	TermsAccepted       bool                 `json:"terms_accepted"`
	PaymentReference    string               `json:"payment_reference" validate:"omitempty,max=255"`
	SpecialRequirements string               `json:"special_requirements" validate:"max=2000"`
}

type BookingResult struct {
	Booking     models.Booking
	Payment     *models.Payment
	Reservation ReservationToken
	// AlreadyBooked is set when the payment reference matched an existing
	// booking; Booking is then that booking and nothing new was written.
	AlreadyBooked bool
}

type CancelResult struct {
	Booking   models.Booking
	Refund    *payments.RefundResult
	RefundErr error
}

type nopAvailability struct{}

func (nopAvailability) PublishAvailability(Availability) {}

type BookingService struct {
	db           *gorm.DB
	ledger       *CapacityLedger
	gateway      payments.Gateway
	dispatcher   notifications.Dispatcher
	availability AvailabilityPublisher
	validate     *validator.Validate
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewBookingService(
	db *gorm.DB,
	ledger *CapacityLedger,
	gateway payments.Gateway,
	dispatcher notifications.Dispatcher,
	availability AvailabilityPublisher,
	log logrus.FieldLogger,
) *BookingService {
	if availability == nil {
		availability = nopAvailability{}
	}
	if dispatcher == nil {
		dispatcher = notifications.Nop{}
	}
	return &BookingService{
		db:           db,
		ledger:       ledger,
		gateway:      gateway,
		dispatcher:   dispatcher,
		availability: availability,
		validate:     newValidator(),
		log:          log,
		now:          time.Now,
	}
}

// CreateBooking reserves seats and records a pending booking in a single
// transaction. Notifications go out only after commit and never affect the
// result.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingResult, error) {
	if err := s.validate.Struct(req); err != nil {
		metrics.BookingsTotal.WithLabelValues("invalid").Inc()
		return nil, &ValidationError{Fields: fieldErrors(err)}
	}

	ref := paymentReference(req.PaymentReference)
	if ref != nil {
		existing, err := s.BookingByPaymentReference(ctx, *ref)
		if err == nil {
			metrics.BookingsTotal.WithLabelValues("duplicate").Inc()
			return &BookingResult{Booking: *existing, AlreadyBooked: true}, nil
		}
		if !errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, newValidationError("session_id", "must be a valid id")
	}

	var session models.CourseSession
	err = s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.BookingsTotal.WithLabelValues("session_not_found").Inc()
		return nil, &CapacityError{Kind: SessionNotFound, SessionID: sessionID}
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkBusinessRules(req, session); err != nil {
		metrics.BookingsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var result BookingResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.ledger.Reserve(ctx, tx, sessionID, req.SeatCount)
		if err != nil {
			return err
		}

		customer, err := upsertCustomer(ctx, tx, req.Contact)
		if err != nil {
			return err
		}

		booking := models.Booking{
			SessionID:           sessionID,
			CustomerID:          customer.ID,
			SeatCount:           req.SeatCount,
			AmountPence:         req.TotalAmountPence,
			Currency:            session.Currency,
			Status:              models.BookingPending,
			PaymentReference:    ref,
			SpecialRequirements: strings.TrimSpace(req.SpecialRequirements),
			TermsAcceptedAt:     s.now().UTC(),
			Attendees:           attendees(req),
		}
		if err := tx.WithContext(ctx).Omit("Session", "Customer").Create(&booking).Error; err != nil {
			if isUniqueViolation(err) && ref != nil {
				return errDuplicatePayment
			}
			return fmt.Errorf("create booking: %w", err)
		}

		var payment *models.Payment
		if ref != nil {
			payment = &models.Payment{
				BookingID:       booking.ID,
				GatewayIntentID: *ref,
				AmountPence:     booking.AmountPence,
				Currency:        booking.Currency,
				Status:          models.PaymentPending,
				Active:          true,
			}
			if err := tx.WithContext(ctx).Omit(clause.Associations).Create(payment).Error; err != nil {
				if isUniqueViolation(err) {
					return errDuplicatePayment
				}
				return fmt.Errorf("create payment: %w", err)
			}
		}

		session.ReservedSeats = token.Reserved
		booking.Session = session
		booking.Customer = customer
		result = BookingResult{Booking: booking, Payment: payment, Reservation: token}
		return nil
	})

	if errors.Is(err, errDuplicatePayment) {
		existing, lookupErr := s.BookingByPaymentReference(ctx, *ref)
		if lookupErr != nil {
			return nil, fmt.Errorf("load booking for duplicate payment reference: %w", lookupErr)
		}
		metrics.BookingsTotal.WithLabelValues("duplicate").Inc()
		return &BookingResult{Booking: *existing, AlreadyBooked: true}, nil
	}
	if err != nil {
		metrics.BookingsTotal.WithLabelValues(bookingFailureOutcome(err)).Inc()
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues("created").Inc()
	s.log.WithFields(logrus.Fields{
		"booking_id": result.Booking.ID,
		"session_id": sessionID,
		"seats":      req.SeatCount,
		"remaining":  result.Reservation.Remaining(),
	}).Info("✅ Booking created")

	s.availability.PublishAvailability(result.Reservation.Availability())
	s.dispatcher.Notify(notifications.EventBookingCreated, bookingPayload(result.Booking))

	return &result, nil
}

func (s *BookingService) checkBusinessRules(req CreateBookingRequest, session models.CourseSession) error {
	fields := map[string]string{}

	if !req.TermsAccepted {
		fields["terms_accepted"] = "must be accepted"
	}
	if len(req.Participants) > 0 && len(req.Participants) != req.SeatCount {
		fields["participants"] = "must list one participant per seat"
	}
	if !session.StartTime.After(s.now()) {
		fields["session_id"] = "session has already started"
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, session.Currency) {
		fields["currency"] = "must be " + session.Currency
	}

	expected := int64(req.SeatCount) * session.PricePerSeatPence
	if diff := req.TotalAmountPence - expected; diff > amountTolerancePence || diff < -amountTolerancePence {
		fields["total_amount_pence"] = "must equal " + strconv.FormatInt(expected, 10)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func upsertCustomer(ctx context.Context, tx *gorm.DB, contact ContactDetails) (models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(contact.Email))

	customer := models.Customer{
		Email:       email,
		FullName:    strings.TrimSpace(contact.FullName),
		Phone:       strings.TrimSpace(contact.Phone),
		CompanyName: strings.TrimSpace(contact.CompanyName),
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "phone", "company_name", "updated_at"}),
	}).Create(&customer).Error
	if err != nil {
		return models.Customer{}, fmt.Errorf("upsert customer: %w", err)
	}

	// On conflict the generated id was not used; read back the stored row.
	if err := tx.WithContext(ctx).Where("email = ?", email).First(&customer).Error; err != nil {
		return models.Customer{}, fmt.Errorf("load customer: %w", err)
	}
	return customer, nil
}

func attendees(req CreateBookingRequest) []models.BookingAttendee {
	out := make([]models.BookingAttendee, 0, len(req.Participants))
	for _, p := range req.Participants {
		out = append(out, models.BookingAttendee{
			FullName: strings.TrimSpace(p.FullName),
			Email:    strings.ToLower(strings.TrimSpace(p.Email)),
			JobTitle: strings.TrimSpace(p.JobTitle),
		})
	}
	return out
}

func paymentReference(raw string) *string {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return nil
	}
	return &ref
}

func bookingFailureOutcome(err error) string {
	var ce *CapacityError
	if errors.As(err, &ce) {
		return ce.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}

func (s *BookingService) loadBooking(ctx context.Context, query string, arg any) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).
		Preload("Attendees").
		Preload("Session").
		Preload("Customer").
		First(&booking, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.loadBooking(ctx, "id = ?", id)
}

func (s *BookingService) BookingByPaymentReference(ctx context.Context, ref string) (*models.Booking, error) {
	return s.loadBooking(ctx, "payment_reference = ?", ref)
}

// CreatePaymentIntent opens a gateway intent for a pending booking. The
// gateway is called before any row is locked.
func (s *BookingService) CreatePaymentIntent(ctx context.Context, bookingID uuid.UUID) (*payments.Intent, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingPending {
		return nil, ErrBookingNotPayable
	}

	var active models.Payment
	err = s.db.WithContext(ctx).
		Where("booking_id = ? AND active = ?", booking.ID, true).
		Order("created_at DESC").
		First(&active).Error
	if err == nil && !active.Status.IsTerminal() {
		return s.gateway.RetrieveIntent(ctx, active.GatewayIntentID)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var attempts int64
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).Where("booking_id = ?", booking.ID).Count(&attempts).Error; err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, booking.AmountPence, booking.Currency, map[string]string{
		"booking_id":      booking.ID.String(),
		"session_id":      booking.SessionID.String(),
		"idempotency_key": fmt.Sprintf("booking-%s-attempt-%d", booking.ID, attempts+1),
	})
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Booking
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, "id = ?", booking.ID).Error; err != nil {
			return err
		}
		if locked.Status != models.BookingPending {
			return ErrBookingNotPayable
		}

		if err := tx.Model(&models.Payment{}).
			Where("booking_id = ? AND active = ?", booking.ID, true).
			Update("active", false).Error; err != nil {
			return err
		}

		payment := models.Payment{
			BookingID:       booking.ID,
			GatewayIntentID: intent.ID,
			AmountPence:     booking.AmountPence,
			Currency:        booking.Currency,
			Status:          intent.Status,
			Active:          true,
		}
		if err := tx.Omit(clause.Associations).Create(&payment).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return tx.Model(&locked).Update("payment_reference", intent.ID).Error
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": booking.ID, "intent_id": intent.ID}).
			WithError(err).Error("🔥 Failed to record payment intent")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"booking_id": booking.ID, "intent_id": intent.ID}).Info("payment intent created")
	return intent, nil
}

// CancelBooking cancels a pending or confirmed booking and gives its seats
// back. A captured payment is refunded after the cancellation commits; a
// failed refund is reported in the result and logged, the cancellation
// stands.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*CancelResult, error) {
	var (
		booking  models.Booking
		payment  *models.Payment
		released Availability
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&booking, "id = ?", bookingID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		if !booking.Status.HoldsSeats() {
			return ErrBookingNotCancellable
		}

		var active models.Payment
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("booking_id = ? AND active = ?", booking.ID, true).
			First(&active).Error
		if err == nil {
			payment = &active
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if payment != nil && !payment.Status.IsTerminal() {
			err := tx.Model(payment).Updates(map[string]any{
				"active":        false,
				"next_check_at": nil,
			}).Error
			if err != nil {
				return fmt.Errorf("deactivate payment: %w", err)
			}
		}

		released, err = s.ledger.Release(ctx, tx, booking.SessionID, booking.SeatCount)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":       models.BookingCancelled,
			"cancelled_at": now,
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			updates["cancellation_reason"] = reason
		}
		return tx.Model(&booking).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	result := &CancelResult{}
	switch {
	case payment == nil:
	case payment.Status == models.PaymentSucceeded && payment.RefundID == nil:
		result.Refund, result.RefundErr = s.refund(ctx, *payment)
	case !payment.Status.IsTerminal():
		s.cancelIntent(ctx, *payment)
	}

	loaded, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	result.Booking = *loaded

	s.log.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"seats":      booking.SeatCount,
		"remaining":  released.Remaining,
	}).Info("booking cancelled")

	s.availability.PublishAvailability(released)
	payload := bookingPayload(result.Booking)
	payload.Reason = reason
	s.dispatcher.Notify(notifications.EventBookingCancelled, payload)

	return result, nil
}

func (s *BookingService) refund(ctx context.Context, payment models.Payment) (*payments.RefundResult, error) {
	return refundPayment(ctx, s.db, s.gateway, s.log, payment)
}

// cancelIntent stops an unpaid intent at the gateway. The payment row is
// left for the webhook or the recovery loop to settle; if the customer paid
// first, that settlement refunds them.
func (s *BookingService) cancelIntent(ctx context.Context, payment models.Payment) {
	fields := logrus.Fields{"booking_id": payment.BookingID, "intent_id": payment.GatewayIntentID}

	intent, err := s.gateway.CancelIntent(ctx, payment.GatewayIntentID)
	if err != nil {
		s.log.WithFields(fields).WithError(err).Warn("could not cancel payment intent, a late payment will be refunded")
		return
	}
	s.log.WithFields(fields).WithField("status", intent.Status).Info("payment intent cancelled")
}
