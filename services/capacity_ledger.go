package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReservationToken is proof that seats were set aside inside the
// transaction that produced it. It is only meaningful once that
// transaction commits.
type ReservationToken struct {
	SessionID  uuid.UUID
	Seats      int
	Reserved   int
	Capacity   int
	ReservedAt time.Time
}

func (t ReservationToken) Remaining() int { return t.Capacity - t.Reserved }

type Availability struct {
	SessionID uuid.UUID `json:"session_id"`
	Capacity  int       `json:"capacity"`
	Reserved  int       `json:"reserved"`
	Remaining int       `json:"remaining"`
}

// AvailabilityPublisher receives the new seat counts after a committed
// reservation or release.
type AvailabilityPublisher interface {
	PublishAvailability(Availability)
}

type CapacityLedger struct {
	db  *gorm.DB
	log logrus.FieldLogger
	now func() time.Time
}

func NewCapacityLedger(db *gorm.DB, log logrus.FieldLogger) *CapacityLedger {
	return &CapacityLedger{db: db, log: log, now: time.Now}
}

// lockSession selects the session row FOR UPDATE. The lock is held until tx
// ends, so nothing slow may run between this call and commit.
func (l *CapacityLedger) lockSession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (models.CourseSession, error) {
	var session models.CourseSession
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session, &CapacityError{Kind: SessionNotFound, SessionID: sessionID}
	}
	return session, err
}

// Reserve sets aside seats on a session. It must be called with an open
// transaction; the reservation is undone if that transaction rolls back.
func (l *CapacityLedger) Reserve(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, seats int) (ReservationToken, error) {
	if seats < 1 {
		return ReservationToken{}, newValidationError("seat_count", "must be at least 1")
	}

	session, err := l.lockSession(ctx, tx, sessionID)
	if err != nil {
		return ReservationToken{}, err
	}

	if seats > session.RemainingSeats() {
		return ReservationToken{}, &CapacityError{
			Kind:      InsufficientSeats,
			SessionID: sessionID,
			Requested: seats,
			Remaining: session.RemainingSeats(),
		}
	}

	// The guard in the WHERE clause keeps the invariant on engines that
	// ignore FOR UPDATE.
	res := tx.WithContext(ctx).Model(&models.CourseSession{}).
		Where("id = ? AND reserved_seats + ? <= max_capacity", sessionID, seats).
		Update("reserved_seats", gorm.Expr("reserved_seats + ?", seats))
	if res.Error != nil {
		return ReservationToken{}, res.Error
	}
	if res.RowsAffected == 0 {
		return ReservationToken{}, &CapacityError{
			Kind:      InsufficientSeats,
			SessionID: sessionID,
			Requested: seats,
			Remaining: session.RemainingSeats(),
		}
	}

	metrics.SeatsReserved.Add(float64(seats))
	return ReservationToken{
		SessionID:  sessionID,
		Seats:      seats,
		Reserved:   session.ReservedSeats + seats,
		Capacity:   session.MaxCapacity,
		ReservedAt: l.now(),
	}, nil
}

// Release returns seats to a session and reports the resulting
// availability. Releasing more than is held clamps the counter at zero.
func (l *CapacityLedger) Release(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, seats int) (Availability, error) {
	if seats < 1 {
		return Availability{}, newValidationError("seat_count", "must be at least 1")
	}

	session, err := l.lockSession(ctx, tx, sessionID)
	if err != nil {
		return Availability{}, err
	}

	reserved := session.ReservedSeats - seats
	if reserved < 0 {
		l.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"releasing":  seats,
			"held":       session.ReservedSeats,
		}).Warn("seat release exceeds reserved count, clamping to zero")
		reserved = 0
	}

	err = tx.WithContext(ctx).Model(&models.CourseSession{}).
		Where("id = ?", sessionID).
		Update("reserved_seats", reserved).Error
	if err != nil {
		return Availability{}, err
	}

	metrics.SeatsReleased.Add(float64(session.ReservedSeats - reserved))
	return Availability{
		SessionID: sessionID,
		Capacity:  session.MaxCapacity,
		Reserved:  reserved,
		Remaining: session.MaxCapacity - reserved,
	}, nil
}

func (l *CapacityLedger) Availability(ctx context.Context, sessionID uuid.UUID) (Availability, error) {
	var session models.CourseSession
	err := l.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Availability{}, &CapacityError{Kind: SessionNotFound, SessionID: sessionID}
	}
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		SessionID: session.ID,
		Capacity:  session.MaxCapacity,
		Reserved:  session.ReservedSeats,
		Remaining: session.RemainingSeats(),
	}, nil
}

func (t ReservationToken) Availability() Availability {
	return Availability{
		SessionID: t.SessionID,
		Capacity:  t.Capacity,
		Reserved:  t.Reserved,
		Remaining: t.Remaining(),
	}
}
