package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus"
)

// WebhookParser verifies a provider webhook and extracts the intent it is
// about. A nil intent means the event is of no interest.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payments.Intent, error)
}

type PaymentHandler struct {
	reconciler *services.PaymentReconciler
	webhooks   WebhookParser
	log        logrus.FieldLogger
}

func NewPaymentHandler(reconciler *services.PaymentReconciler, webhooks WebhookParser, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, webhooks: webhooks, log: log}
}

// ConfirmPayment is called by the browser once the card form completes.
// The status is always re-read from the gateway.
func (h *PaymentHandler) ConfirmPayment(c *fiber.Ctx) error {
	var req struct {
		PaymentIntentID string `json:"payment_intent_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	if req.PaymentIntentID == "" {
		return &services.ValidationError{Fields: map[string]string{"payment_intent_id": "is required"}}
	}

	outcome, err := h.reconciler.ConfirmByIntent(c.UserContext(), req.PaymentIntentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"outcome": outcome}})
}

func (h *PaymentHandler) HandleStripeWebhook(c *fiber.Ctx) error {
	intent, err := h.webhooks.ParseWebhook(c.Body(), c.Get("Stripe-Signature"))
	if errors.Is(err, payments.ErrWebhookSignature) {
		h.log.WithError(err).Warn("rejected webhook with bad signature")
		return fiber.NewError(fiber.StatusBadRequest, "Invalid signature")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse webhook payload")
	}
	if intent == nil {
		return c.JSON(fiber.Map{"message": "Event ignored"})
	}

	fields := logrus.Fields{"intent_id": intent.ID, "status": intent.Status}
	outcome, err := h.reconciler.ApplyByIntent(c.UserContext(), intent.ID, intent.Status, intent.FailureReason, services.SourceWebhook)
	if errors.Is(err, services.ErrPaymentNotFound) {
		h.log.WithFields(fields).Warn("webhook for unknown payment intent")
		return c.JSON(fiber.Map{"message": "Unknown payment intent"})
	}
	if err != nil {
		// A 5xx makes Stripe redeliver the event later.
		return err
	}

	h.log.WithFields(fields).WithField("outcome", outcome).Info("webhook processed")
	return c.JSON(fiber.Map{"message": "Webhook processed successfully", "outcome": outcome})
}
