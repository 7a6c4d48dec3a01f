package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/services"
	hub "github.com/reactfasttraining/course_booking/websocket"
	"github.com/sirupsen/logrus"
)

type SessionHandler struct {
	ledger *services.CapacityLedger
	hub    *hub.Hub
	log    logrus.FieldLogger
}

func NewSessionHandler(ledger *services.CapacityLedger, h *hub.Hub, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{ledger: ledger, hub: h, log: log}
}

func (h *SessionHandler) GetAvailability(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	avail, err := h.ledger.Availability(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": avail})
}

// UpgradeAvailabilityFeed rejects plain HTTP requests and unknown session
// ids before the websocket handshake.
func (h *SessionHandler) UpgradeAvailabilityFeed(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	c.Locals("session_id", id)
	return c.Next()
}

// AvailabilityFeed sends the current seat counts, then every change until
// the client goes away.
func (h *SessionHandler) AvailabilityFeed() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		id, _ := conn.Locals("session_id").(uuid.UUID)
		log := h.log.WithField("session_id", id)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		avail, err := h.ledger.Availability(ctx, id)
		cancel()
		if err != nil {
			_ = conn.WriteJSON(fiber.Map{"status": "error", "message": err.Error()})
			_ = conn.Close()
			return
		}
		if err := conn.WriteJSON(avail); err != nil {
			return
		}

		client := &hub.Client{SessionID: id, Conn: conn}
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				log.WithError(err).Debug("availability feed closed")
				return
			}
		}
	})
}
