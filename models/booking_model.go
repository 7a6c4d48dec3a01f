package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Booking struct {
	ID                  uuid.UUID     `gorm:"type:char(36);primaryKey" json:"id"`
	SessionID           uuid.UUID     `gorm:"type:char(36);not null;index" json:"session_id"`
	CustomerID          uuid.UUID     `gorm:"type:char(36);not null;index" json:"customer_id"`
	SeatCount           int           `gorm:"not null" json:"seat_count"`
	AmountPence         int64         `gorm:"not null" json:"amount_pence"`
	Currency            string        `gorm:"size:3;not null" json:"currency"`
	Status              BookingStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	PaymentReference    *string       `gorm:"size:255;uniqueIndex" json:"payment_reference,omitempty"`
	SpecialRequirements string        `gorm:"type:text" json:"special_requirements,omitempty"`
	TermsAcceptedAt     time.Time     `gorm:"not null" json:"terms_accepted_at"`

	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `gorm:"type:text" json:"cancellation_reason,omitempty"`
	RemindedAt         *time.Time `json:"-"`

	Attendees []BookingAttendee `gorm:"foreignKey:BookingID" json:"attendees,omitempty"`
	Session   CourseSession     `gorm:"foreignKey:SessionID" json:"session,omitempty"`
	Customer  Customer          `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

type BookingAttendee struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	BookingID uuid.UUID `gorm:"type:char(36);not null;index" json:"-"`
	FullName  string    `gorm:"size:255;not null" json:"full_name"`
	Email     string    `gorm:"size:255" json:"email,omitempty"`
	JobTitle  string    `gorm:"size:255" json:"job_title,omitempty"`
}

func (a *BookingAttendee) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
