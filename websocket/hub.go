package websocket

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

type Client struct {
	SessionID uuid.UUID
	Conn      Conn
}

// Hub fans seat availability out to browsers watching a session. All
// connection writes happen on the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan services.Availability
	clients    map[uuid.UUID]map[*Client]struct{}
	done       chan struct{}
	log        logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan services.Availability, 256),
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		done:       make(chan struct{}),
		log:        log.WithField("component", "availability_hub"),
	}
}

// Register and Unregister return immediately once the hub has stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// PublishAvailability implements services.AvailabilityPublisher. It never
// blocks; updates are dropped when the hub is saturated.
func (h *Hub) PublishAvailability(a services.Availability) {
	select {
	case h.broadcast <- a:
	default:
		h.log.WithField("session_id", a.SessionID).Warn("availability update dropped, hub busy")
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					_ = c.Conn.Close()
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]struct{})
			return

		case c := <-h.register:
			set, ok := h.clients[c.SessionID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.SessionID] = set
			}
			set[c] = struct{}{}
			h.log.WithField("session_id", c.SessionID).Debug("client subscribed")

		case c := <-h.unregister:
			h.remove(c)

		case a := <-h.broadcast:
			for c := range h.clients[a.SessionID] {
				if err := c.Conn.WriteJSON(a); err != nil {
					h.log.WithField("session_id", a.SessionID).WithError(err).Debug("dropping websocket client")
					_ = c.Conn.Close()
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.SessionID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.SessionID)
	}
}
