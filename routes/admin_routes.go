package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/reactfasttraining/course_booking/middleware"
)

func AdminRoutes(app *fiber.App, h Handlers) {
	admin := app.Group("/api/admin", middleware.Protected(h.JWTSecret), middleware.AdminRequired())

	recovery := admin.Group("/recovery")
	recovery.Post("/run", h.Admin.RunRecovery)
	recovery.Get("/breaker", h.Admin.BreakerStatus)
}
