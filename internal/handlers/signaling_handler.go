package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/services"
)

const (
	SignalPartyJoined       = "party_joined"
	SignalBothConnected     = "both_connected"
	SignalPartyDisconnected = "party_disconnected"
)

// SignalingHandler adapts media vendor webhooks to the session state machine.
type SignalingHandler struct {
	signaling services.Signaling
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewSignalingHandler(signaling services.Signaling, log zerolog.Logger) *SignalingHandler {
	return &SignalingHandler{
		signaling: signaling,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("handler", "signaling").Logger(),
	}
}

type SignalingEventRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Event     string `json:"event" validate:"required,oneof=party_joined both_connected party_disconnected"`
}

// Events receives one signaling event
// @Summary Signaling webhook
// @Description Media vendors report party presence here
// @Tags Signaling
// @Accept json
// @Produce json
// @Param X-Signaling-Secret header string true "Shared webhook secret"
// @Param request body SignalingEventRequest true "Signaling event"
// @Success 200 {object} object
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /signaling/events [post]
func (h *SignalingHandler) Events(w http.ResponseWriter, r *http.Request) {
	var req SignalingEventRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	h.log.Info().Str("session_id", req.SessionID).Str("event", req.Event).Msg("Signaling event received")

	ctx := r.Context()
	switch req.Event {
	case SignalPartyJoined:
		s, err := h.signaling.OnPartyJoined(ctx, req.SessionID)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(s))
	case SignalBothConnected:
		s, err := h.signaling.OnBothPartiesConnected(ctx, req.SessionID)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(s))
	case SignalPartyDisconnected:
		l, err := h.signaling.OnPartyDisconnected(ctx, req.SessionID)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}
