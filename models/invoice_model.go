package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Invoice struct {
	ID          uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	BookingID   uuid.UUID `gorm:"type:char(36);not null;uniqueIndex" json:"booking_id"`
	Number      string    `gorm:"size:32;not null;uniqueIndex" json:"number"`
	NetPence    int64     `gorm:"not null" json:"net_pence"`
	VATPence    int64     `gorm:"not null" json:"vat_pence"`
	GrossPence  int64     `gorm:"not null" json:"gross_pence"`
	Currency    string    `gorm:"size:3;not null" json:"currency"`
	IssuedAt    time.Time `gorm:"not null" json:"issued_at"`
	DocumentURL *string   `gorm:"type:text" json:"document_url,omitempty"`

	Booking Booking `gorm:"foreignKey:BookingID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// InvoiceSequence holds the last issued invoice number per calendar year.
type InvoiceSequence struct {
	Year      int   `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64 `gorm:"not null;default:0"`
}
