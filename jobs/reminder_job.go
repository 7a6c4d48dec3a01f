package jobs

import (
	"context"
	"time"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReminderJob emails attendees ahead of their session and nudges customers
// whose payment has been left pending. Each booking is reminded once per
// stage; reminded_at is claimed before the notification is sent.
type ReminderJob struct {
	db           *gorm.DB
	dispatcher   notifications.Dispatcher
	lead         time.Duration
	pendingAfter time.Duration
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewReminderJob(db *gorm.DB, dispatcher notifications.Dispatcher, cfg config.Reminder, pendingAfter time.Duration, log logrus.FieldLogger) *ReminderJob {
	return &ReminderJob{
		db:           db,
		dispatcher:   dispatcher,
		lead:         cfg.Lead,
		pendingAfter: pendingAfter,
		log:          log.WithField("job", "reminders"),
		now:          time.Now,
	}
}

func (j *ReminderJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sessions, err := j.SendSessionReminders(ctx)
	if err != nil {
		j.log.WithError(err).Error("🔥 Failed to send session reminders")
	}
	pending, err := j.SendPaymentReminders(ctx)
	if err != nil {
		j.log.WithError(err).Error("🔥 Failed to send payment reminders")
	}
	if sessions+pending > 0 {
		j.log.WithFields(logrus.Fields{"sessions": sessions, "payments": pending}).Info("✅ Reminders sent")
	}
}

// SendSessionReminders covers confirmed bookings whose session starts
// within the lead time. A payment reminder sent before confirmation does
// not suppress the session reminder.
func (j *ReminderJob) SendSessionReminders(ctx context.Context) (int, error) {
	now := j.now().UTC()

	var due []models.Booking
	err := j.db.WithContext(ctx).
		Joins("JOIN course_sessions ON course_sessions.id = bookings.session_id").
		Where("bookings.status = ?", models.BookingConfirmed).
		Where("course_sessions.start_time > ? AND course_sessions.start_time <= ?", now, now.Add(j.lead)).
		Where("bookings.reminded_at IS NULL OR bookings.reminded_at < bookings.confirmed_at").
		Preload("Session").
		Preload("Customer").
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, b := range due {
		claimed, err := j.claim(ctx, b.ID, now, "reminded_at IS NULL OR reminded_at < confirmed_at")
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		j.dispatcher.Notify(notifications.EventSessionReminder, reminderPayload(b))
		sent++
	}
	return sent, nil
}

// SendPaymentReminders covers pending bookings whose active payment has
// been open longer than pendingAfter.
func (j *ReminderJob) SendPaymentReminders(ctx context.Context) (int, error) {
	now := j.now().UTC()

	var due []models.Booking
	err := j.db.WithContext(ctx).
		Joins("JOIN payments ON payments.booking_id = bookings.id AND payments.active = ?", true).
		Where("bookings.status = ? AND bookings.reminded_at IS NULL", models.BookingPending).
		Where("payments.status IN ? AND payments.created_at <= ?", models.NonTerminalPaymentStatuses(), now.Add(-j.pendingAfter)).
		Preload("Session").
		Preload("Customer").
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, b := range due {
		claimed, err := j.claim(ctx, b.ID, now, "reminded_at IS NULL")
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		j.dispatcher.Notify(notifications.EventPaymentPendingReminder, reminderPayload(b))
		sent++
	}
	return sent, nil
}

func (j *ReminderJob) claim(ctx context.Context, bookingID any, now time.Time, guard string) (bool, error) {
	res := j.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ?", bookingID).
		Where(guard).
		Update("reminded_at", now)
	return res.RowsAffected == 1, res.Error
}

func reminderPayload(b models.Booking) notifications.Payload {
	return notifications.Payload{
		BookingID:     b.ID,
		SessionID:     b.SessionID,
		CustomerName:  b.Customer.FullName,
		CustomerEmail: b.Customer.Email,
		CourseTitle:   b.Session.CourseTitle,
		Location:      b.Session.Location,
		SessionStart:  b.Session.StartTime,
		SeatCount:     b.SeatCount,
		AmountPence:   b.AmountPence,
		Currency:      b.Currency,
	}
}
