package services

import (
	"errors"
	"strings"

	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"gorm.io/gorm"
)

// bookingPayload expects Session and Customer to be loaded.
func bookingPayload(b models.Booking) notifications.Payload {
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

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
