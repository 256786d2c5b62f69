package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	mW "github.com/readerline/backend/internal/middleware"
	"github.com/readerline/backend/internal/services"
)

// WSHandler upgrades authenticated callers to the event stream of their sessions.
type WSHandler struct {
	hub      *services.EventHub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(hub *services.EventHub, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// any origin; callers authenticate with a bearer token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With().Str("handler", "ws").Logger(),
	}
}

// Serve streams session and gift events to the caller
// @Summary Event stream
// @Description WebSocket of session_tick, session_ended, gift and livestream events for the caller
// @Tags Events
// @Security BearerAuth
// @Param userId query string false "User id when authentication is disabled"
// @Success 101
// @Router /ws [get]
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if claims, ok := mW.ClaimsFromContext(r.Context()); ok {
		userID = claims.UserID
	}
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to upgrade WebSocket connection")
		return
	}
	h.hub.Serve(userID, conn)
}
