// Package databasetest opens throwaway SQLite databases for package tests.
package databasetest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/database"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Open returns a migrated database in t.TempDir(). Transactions begin
// IMMEDIATE so concurrent writers queue on the database lock the same way
// they queue on a row lock in postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dsn := fmt.Sprintf("%s?_busy_timeout=10000&_txlock=immediate", filepath.Join(t.TempDir(), "booking.db"))
	db, err := database.Open(config.Database{Driver: database.DriverSQLite, DSN: dsn}, log)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

// SeedSession inserts a session starting a week from now.
func SeedSession(t testing.TB, db *gorm.DB, capacity, reserved int, pricePence int64) models.CourseSession {
	t.Helper()

	start := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Minute)
	session := models.CourseSession{
		CourseTitle:       "React Fundamentals",
		Location:          "London",
		StartTime:         start,
		EndTime:           start.Add(8 * time.Hour),
		MaxCapacity:       capacity,
		ReservedSeats:     reserved,
		PricePerSeatPence: pricePence,
		Currency:          "GBP",
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	return session
}

func ReservedSeats(t testing.TB, db *gorm.DB, sessionID any) int {
	t.Helper()

	var session models.CourseSession
	if err := db.First(&session, "id = ?", sessionID).Error; err != nil {
		t.Fatalf("failed to load session %v: %v", sessionID, err)
	}
	return session.ReservedSeats
}
