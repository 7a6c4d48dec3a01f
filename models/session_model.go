package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseSession struct {
	ID                uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	CourseTitle       string    `gorm:"size:255;not null" json:"course_title"`
	Location          string    `gorm:"size:255" json:"location"`
	StartTime         time.Time `gorm:"not null;index" json:"start_time"`
	EndTime           time.Time `gorm:"not null" json:"end_time"`
	MaxCapacity       int       `gorm:"not null" json:"max_capacity"`
	ReservedSeats     int       `gorm:"not null;default:0" json:"reserved_seats"`
	PricePerSeatPence int64     `gorm:"not null" json:"price_per_seat_pence"`
	Currency          string    `gorm:"size:3;not null;default:'GBP'" json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *CourseSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s CourseSession) RemainingSeats() int {
	if s.ReservedSeats >= s.MaxCapacity {
		return 0
	}
	return s.MaxCapacity - s.ReservedSeats
}
