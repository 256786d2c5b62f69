package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/services"
)

type WalletHandler struct {
	wallets   *services.WalletService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewWalletHandler(wallets *services.WalletService, log zerolog.Logger) *WalletHandler {
	return &WalletHandler{
		wallets:   wallets,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("handler", "wallet").Logger(),
	}
}

type TopUpRequest struct {
	UserID         string `json:"userId" validate:"required"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

type WalletResponse struct {
	models.UserLedger
	BalanceDisplay         string `json:"balanceDisplay"`
	PendingEarningsDisplay string `json:"pendingEarningsDisplay"`
	EarningsDisplay        string `json:"earningsDisplay"`
}

func newWalletResponse(u *models.UserLedger) WalletResponse {
	return WalletResponse{
		UserLedger:             *u,
		BalanceDisplay:         models.FormatMinor(u.Balance),
		PendingEarningsDisplay: models.FormatMinor(u.PendingEarnings),
		EarningsDisplay:        models.FormatMinor(u.Earnings),
	}
}

// TopUp funds a balance through the payment provider
// @Summary Top up wallet
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Forwarded to the payment provider"
// @Param request body TopUpRequest true "Amount in minor units"
// @Success 200 {object} WalletResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /wallet/topup [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	if !actingAs(r, req.UserID) {
		forbidden(w)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	u, err := h.wallets.TopUp(r.Context(), req.UserID, req.Amount, key)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(u))
}

// Get returns balance, pending earnings and earnings
// @Summary Get wallet
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User id"
// @Success 200 {object} WalletResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/{userId} [get]
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !actingAs(r, userID) {
		forbidden(w)
		return
	}
	u, err := h.wallets.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(u))
}

// Entries lists the most recent ledger entries of a user
// @Summary List ledger entries
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User id"
// @Param limit query int false "Max entries (default 50, max 500)"
// @Success 200 {array} models.LedgerEntry
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/{userId}/entries [get]
func (h *WalletHandler) Entries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !actingAs(r, userID) {
		forbidden(w)
		return
	}
	entries, err := h.wallets.Entries(r.Context(), userID, queryLimit(r, 50, 500))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
