package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment is one gateway transaction for a booking. Only the active record
// is reconciled; superseded attempts stay for audit.
type Payment struct {
	ID              uuid.UUID     `gorm:"type:char(36);primaryKey" json:"id"`
	BookingID       uuid.UUID     `gorm:"type:char(36);not null;index" json:"booking_id"`
	GatewayIntentID string        `gorm:"size:255;not null;uniqueIndex" json:"gateway_intent_id"`
	AmountPence     int64         `gorm:"not null" json:"amount_pence"`
	Currency        string        `gorm:"size:3;not null" json:"currency"`
	Status          PaymentStatus `gorm:"size:20;not null;index" json:"status"`
	Active          bool          `gorm:"not null;default:true;index" json:"active"`
	FailureReason   *string       `gorm:"type:text" json:"failure_reason,omitempty"`

	CheckAttempts int        `gorm:"not null;default:0" json:"-"`
	LastCheckedAt *time.Time `json:"-"`
	NextCheckAt   *time.Time `gorm:"index" json:"-"`

	RefundID      *string `gorm:"size:255" json:"refund_id,omitempty"`
	RefundedPence int64   `gorm:"not null;default:0" json:"refunded_pence"`

	Booking Booking `gorm:"foreignKey:BookingID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
