package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/services"
)

type SessionHandler struct {
	manager   *services.SessionManager
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewSessionHandler(manager *services.SessionManager, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		manager:   manager,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("handler", "session").Logger(),
	}
}

type CreateSessionRequest struct {
	ReaderID string `json:"readerId" validate:"required"`
	ClientID string `json:"clientId" validate:"required,nefield=ReaderID"`
	Mode     string `json:"mode" validate:"required,session_mode"`
}

type SessionIDRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type EndSessionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Reason    string `json:"reason,omitempty" validate:"omitempty,oneof=completed disconnected"`
}

// SessionResponse is a session with display amounts and, once terminal, its settlement.
type SessionResponse struct {
	models.Session
	RateDisplay        string                `json:"rateDisplay"`
	AccumulatedDisplay string                `json:"accumulatedDisplay"`
	Settlement         *models.SettlementLog `json:"settlement,omitempty"`
}

func newSessionResponse(s *models.Session) SessionResponse {
	return SessionResponse{
		Session:            *s,
		RateDisplay:        models.FormatMinor(s.Rate),
		AccumulatedDisplay: models.FormatMinor(s.AccumulatedAmount),
	}
}

// Create opens a billed session
// @Summary Create session
// @Description Validate both parties, fix the per-minute rate and register a pending session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateSessionRequest true "Session parties and mode"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /session/create [post]
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	if !actingAs(r, req.ClientID) && !actingAs(r, req.ReaderID) {
		forbidden(w)
		return
	}

	s, err := h.manager.Create(r.Context(), services.CreateSessionRequest{
		ReaderID: req.ReaderID,
		ClientID: req.ClientID,
		Mode:     models.SessionMode(req.Mode),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(s))
}

// Join records the first party entering the room
// @Summary Join session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SessionIDRequest true "Session id"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /session/join [post]
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req SessionIDRequest
	if !decodeJSON(w, r, h.validator, &req) || !h.authorizeParty(w, r, req.SessionID) {
		return
	}
	s, err := h.manager.Join(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// Connected starts billing
// @Summary Mark session connected
// @Description Both parties are present; the server-side billing clock starts
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SessionIDRequest true "Session id"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /session/connected [post]
func (h *SessionHandler) Connected(w http.ResponseWriter, r *http.Request) {
	var req SessionIDRequest
	if !decodeJSON(w, r, h.validator, &req) || !h.authorizeParty(w, r, req.SessionID) {
		return
	}
	s, err := h.manager.MarkConnected(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// End terminates a session and returns its settlement
// @Summary End session
// @Description Idempotent: ending an already ended session returns the stored settlement
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body EndSessionRequest true "Session id and optional reason"
// @Success 200 {object} models.SettlementLog
// @Failure 404 {object} services.ErrorResponse
// @Router /session/end [post]
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if !decodeJSON(w, r, h.validator, &req) || !h.authorizeParty(w, r, req.SessionID) {
		return
	}
	log, err := h.manager.RequestEnd(r.Context(), req.SessionID, models.EndReason(req.Reason))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// Get returns the current state of a session
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session id"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /session/{id} [get]
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.manager.GetState(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if !actingAs(r, s.ClientID) && !actingAs(r, s.ReaderID) {
		forbidden(w)
		return
	}

	resp := newSessionResponse(s)
	if s.State.IsTerminal() {
		l, err := h.manager.Settlement(r.Context(), id)
		if err != nil && !errors.Is(err, models.ErrSettlementNotFound) {
			writeServiceError(w, h.log, err)
			return
		}
		resp.Settlement = l
	}
	writeJSON(w, http.StatusOK, resp)
}

// Settlement returns the settlement log of a terminated session
// @Summary Get session settlement
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session id"
// @Success 200 {object} models.SettlementLog
// @Failure 404 {object} services.ErrorResponse
// @Router /session/{id}/settlement [get]
func (h *SessionHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, err := h.manager.Settlement(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if !actingAs(r, l.ClientID) && !actingAs(r, l.ReaderID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *SessionHandler) authorizeParty(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	s, err := h.manager.GetState(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return false
	}
	if !actingAs(r, s.ClientID) && !actingAs(r, s.ReaderID) {
		forbidden(w)
		return false
	}
	return true
}
