package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/jobs"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus"
)

// ErrorHandler turns errors returned by handlers into JSON responses.
// Unexpected errors are logged and reported without detail.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, body := errorResponse(err)
		if code >= fiber.StatusInternalServerError {
			log.WithFields(logrus.Fields{
				"path":   c.Path(),
				"method": c.Method(),
			}).WithError(err).Error("🔥 Request failed")
		}
		return c.Status(code).JSON(body)
	}
}

func errorResponse(err error) (int, fiber.Map) {
	body := fiber.Map{"status": "error", "message": err.Error()}

	var (
		fe *fiber.Error
		ve *services.ValidationError
		ce *services.CapacityError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code, body
	case errors.As(err, &ve):
		body["message"] = "validation failed"
		body["fields"] = ve.Fields
		return fiber.StatusUnprocessableEntity, body
	case errors.As(err, &ce):
		body["reason"] = ce.Kind.String()
		if ce.Kind == services.SessionNotFound {
			return fiber.StatusNotFound, body
		}
		body["remaining"] = ce.Remaining
		return fiber.StatusConflict, body
	case errors.Is(err, services.ErrBookingNotFound), errors.Is(err, services.ErrPaymentNotFound):
		return fiber.StatusNotFound, body
	case errors.Is(err, services.ErrBookingNotCancellable), errors.Is(err, services.ErrBookingNotPayable):
		return fiber.StatusConflict, body
	case errors.Is(err, jobs.ErrRecoveryRunning):
		return fiber.StatusConflict, body
	case errors.Is(err, payments.ErrCircuitOpen):
		body["message"] = "payment provider temporarily unavailable, please retry shortly"
		return fiber.StatusServiceUnavailable, body
	case payments.IsPermanent(err):
		var ge *payments.GatewayError
		if errors.As(err, &ge) && ge.Code != "" {
			body["reason"] = ge.Code
		}
		body["message"] = "payment was declined"
		return fiber.StatusPaymentRequired, body
	case payments.IsTransient(err):
		body["message"] = "payment provider did not respond, please retry"
		return fiber.StatusServiceUnavailable, body
	}

	body["message"] = "internal server error"
	return fiber.StatusInternalServerError, body
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name+" format")
	}
	return id, nil
}
