package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/reactfasttraining/course_booking/database"
	"github.com/reactfasttraining/course_booking/payments"
	"gorm.io/gorm"
)

func healthHandler(db *gorm.DB, breaker *payments.CircuitBreaker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status, code := "ok", fiber.StatusOK
		dbStatus := "ok"
		if err := database.Ping(ctx, db); err != nil {
			status, code, dbStatus = "unavailable", fiber.StatusServiceUnavailable, err.Error()
		}
		return c.Status(code).JSON(fiber.Map{
			"status":          status,
			"database":        dbStatus,
			"payment_gateway": breaker.Snapshot().State,
		})
	}
}
