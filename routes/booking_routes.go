package routes

import "github.com/gofiber/fiber/v2"

func BookingRoutes(app *fiber.App, h Handlers) {
	booking := app.Group("/api/bookings", h.rateLimit())
	booking.Post("", h.Bookings.CreateBooking)
	booking.Get("/:id", h.Bookings.GetBooking)
	booking.Post("/:id/cancel", h.Bookings.CancelBooking)
	booking.Post("/:id/payment-intent", h.Bookings.CreatePaymentIntent)
}

func (h Handlers) rateLimit() fiber.Handler {
	if h.RateLimit == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return h.RateLimit
}
