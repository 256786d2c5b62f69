package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/services"
)

type GiftHandler struct {
	gifts     *services.GiftService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewGiftHandler(gifts *services.GiftService, log zerolog.Logger) *GiftHandler {
	return &GiftHandler{
		gifts:     gifts,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("handler", "gift").Logger(),
	}
}

type StartLivestreamRequest struct {
	ReaderID        string `json:"readerId" validate:"required"`
	DurationMinutes int    `json:"durationMinutes" validate:"required,min=1,max=1440"`
}

type SendGiftRequest struct {
	SenderID     string `json:"senderId" validate:"required"`
	RecipientID  string `json:"recipientId" validate:"required,nefield=SenderID"`
	LivestreamID string `json:"livestreamId" validate:"required"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
}

// StartLivestream opens a livestream for gifts
// @Summary Start livestream
// @Tags Livestreams
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartLivestreamRequest true "Host reader and scheduled duration"
// @Success 201 {object} models.Livestream
// @Failure 400 {object} services.ErrorResponse
// @Router /livestream/start [post]
func (h *GiftHandler) StartLivestream(w http.ResponseWriter, r *http.Request) {
	var req StartLivestreamRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	if !actingAs(r, req.ReaderID) {
		forbidden(w)
		return
	}

	l, err := h.gifts.StartLivestream(r.Context(), req.ReaderID, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// EndLivestream closes a livestream
// @Summary End livestream
// @Tags Livestreams
// @Produce json
// @Security BearerAuth
// @Param id path string true "Livestream id"
// @Success 200 {object} models.Livestream
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /livestream/{id}/end [post]
func (h *GiftHandler) EndLivestream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, err := h.gifts.GetLivestream(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if !actingAs(r, l.ReaderID) {
		forbidden(w)
		return
	}

	l, err = h.gifts.EndLivestream(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetLivestream returns one livestream
// @Summary Get livestream
// @Tags Livestreams
// @Produce json
// @Security BearerAuth
// @Param id path string true "Livestream id"
// @Success 200 {object} models.Livestream
// @Failure 404 {object} services.ErrorResponse
// @Router /livestream/{id} [get]
func (h *GiftHandler) GetLivestream(w http.ResponseWriter, r *http.Request) {
	l, err := h.gifts.GetLivestream(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// SendGift pays for a gift to a livestream host
// @Summary Send gift
// @Description The sender is debited now; the host is credited by the next settlement sweep
// @Tags Gifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SendGiftRequest true "Gift"
// @Success 201 {object} models.Gift
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /gift/send [post]
func (h *GiftHandler) SendGift(w http.ResponseWriter, r *http.Request) {
	var req SendGiftRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	if !actingAs(r, req.SenderID) {
		forbidden(w)
		return
	}

	gift, err := h.gifts.SendGift(r.Context(), services.SendGiftRequest{
		SenderID:     req.SenderID,
		RecipientID:  req.RecipientID,
		LivestreamID: req.LivestreamID,
		Amount:       req.Amount,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, gift)
}

