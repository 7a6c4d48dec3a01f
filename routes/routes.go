package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reactfasttraining/course_booking/handlers"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Bookings  *handlers.BookingHandler
	Payments  *handlers.PaymentHandler
	Sessions  *handlers.SessionHandler
	Admin     *handlers.AdminHandler
	Health    fiber.Handler
	RateLimit fiber.Handler
	JWTSecret string
}

func Register(app *fiber.App, h Handlers) {
	PublicRoutes(app, h)
	BookingRoutes(app, h)
	PaymentRoutes(app, h)
	AdminRoutes(app, h)
}

func PublicRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/sessions/:id/availability", h.Sessions.GetAvailability)

	app.Get("/ws/sessions/:id", h.Sessions.UpgradeAvailabilityFeed, h.Sessions.AvailabilityFeed())
}
