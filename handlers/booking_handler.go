package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/reactfasttraining/course_booking/services"
)

type BookingHandler struct {
	bookings *services.BookingService
}

func NewBookingHandler(bookings *services.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBooking answers 201 for a new booking and 200 when the payment
// reference was already used, with that booking in the body.
func (h *BookingHandler) CreateBooking(c *fiber.Ctx) error {
	var req services.CreateBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}

	res, err := h.bookings.CreateBooking(c.UserContext(), req)
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	data := fiber.Map{"booking": res.Booking, "already_booked": res.AlreadyBooked}
	if res.AlreadyBooked {
		status = fiber.StatusOK
	} else {
		data["remaining_seats"] = res.Reservation.Remaining()
	}
	if res.Payment != nil {
		data["payment"] = res.Payment
	}
	return c.Status(status).JSON(fiber.Map{"status": "success", "data": data})
}

func (h *BookingHandler) GetBooking(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	booking, err := h.bookings.GetBooking(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": booking})
}

func (h *BookingHandler) CancelBooking(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
		}
	}

	res, err := h.bookings.CancelBooking(c.UserContext(), id, req.Reason)
	if err != nil {
		return err
	}

	data := fiber.Map{"booking": res.Booking}
	switch {
	case res.Refund != nil:
		data["refund"] = fiber.Map{"id": res.Refund.ID, "amount_pence": res.Refund.AmountPence, "status": res.Refund.Status}
	case res.RefundErr != nil:
		data["refund"] = fiber.Map{"status": "manual_review"}
	}
	return c.JSON(fiber.Map{"status": "success", "data": data})
}

func (h *BookingHandler) CreatePaymentIntent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	intent, err := h.bookings.CreatePaymentIntent(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"payment_intent_id": intent.ID,
			"client_secret":     intent.ClientSecret,
			"amount_pence":      intent.AmountPence,
			"currency":          intent.Currency,
			"payment_status":    intent.Status,
		},
	})
}
