package routes

import "github.com/gofiber/fiber/v2"

func PaymentRoutes(app *fiber.App, h Handlers) {
	api := app.Group("/api/payments")

	// Stripe retries webhooks itself and is not rate limited.
	api.Post("/webhook", h.Payments.HandleStripeWebhook)
	api.Post("/confirm", h.rateLimit(), h.Payments.ConfirmPayment)
}
