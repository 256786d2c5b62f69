package services

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/models"
)

const (
	hubSendBuffer = 32
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = 54 * time.Second
)

// EventHub pushes events to the websocket connections of the users they concern.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]map[*hubClient]bool
	log     zerolog.Logger
}

type hubClient struct {
	userID string
	conn   *websocket.Conn
	send   chan models.Event
	once   sync.Once
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[string]map[*hubClient]bool),
		log:     log,
	}
}

// Serve registers conn for userID and blocks until the connection closes.
func (h *EventHub) Serve(userID string, conn *websocket.Conn) {
	c := &hubClient{userID: userID, conn: conn, send: make(chan models.Event, hubSendBuffer)}
	h.register(c)
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *EventHub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*hubClient]bool)
	}
	h.clients[c.userID][c] = true
	h.log.Info().
		Str("user_id", c.userID).
		Int("connection_count", len(h.clients[c.userID])).
		Msg("WebSocket client registered")
}

func (h *EventHub) unregister(c *hubClient) {
	h.mu.Lock()
	if clients, ok := h.clients[c.userID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()

	c.once.Do(func() { close(c.send) })
	h.log.Info().Str("user_id", c.userID).Msg("WebSocket client unregistered")
}

// Publish queues ev for every connection of every user in ev.UserIDs. Slow
// connections drop events rather than blocking billing.
func (h *EventHub) Publish(_ context.Context, ev models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range ev.UserIDs {
		for c := range h.clients[userID] {
			select {
			case c.send <- ev:
			default:
				h.log.Warn().
					Str("user_id", userID).
					Str("type", string(ev.Type)).
					Msg("WebSocket send buffer full, dropping event")
			}
		}
	}
	return nil
}

// Connections is the number of open connections for userID.
func (h *EventHub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *EventHub) readPump(c *hubClient) {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error().Err(err).Str("user_id", c.userID).Msg("Unexpected WebSocket close error")
			}
			return
		}
	}
}

func (h *EventHub) writePump(c *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.log.Error().Err(err).
					Str("user_id", c.userID).
					Str("type", string(ev.Type)).
					Msg("Failed to send WebSocket message")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
