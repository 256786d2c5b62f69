package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	mW "github.com/readerline/backend/internal/middleware"
	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/services"
)

const maxBodyBytes = 1_048_576

// decodeJSON reads exactly one JSON object into dst and validates it. It
// writes the error response itself and reports whether the handler may go on.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps a domain error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParty),
		errors.Is(err, models.ErrInvalidMode),
		errors.Is(err, models.ErrInvalidRate),
		errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrSettlementNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrLivestreamNotFound),
		errors.Is(err, models.ErrGiftNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSignalingDesync),
		errors.Is(err, models.ErrSessionNotActive),
		errors.Is(err, models.ErrLivestreamEnded),
		errors.Is(err, models.ErrDuplicateSettlement):
		return http.StatusConflict
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrPaymentUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError answers with the mapped status. Causes of 5xx responses
// only go to the log.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
		message := "Internal server error"
		if status == http.StatusServiceUnavailable {
			message = models.ErrPaymentUnavailable.Error()
		}
		services.SendErrorResponse(w, message, status, nil)
		return
	}
	services.SendErrorResponse(w, err.Error(), status, nil)
}

// actingAs reports whether the caller may act for userID. With auth disabled
// there are no claims and every caller is trusted.
func actingAs(r *http.Request, userID string) bool {
	claims, ok := mW.ClaimsFromContext(r.Context())
	if !ok {
		return true
	}
	return claims.IsAdmin() || claims.UserID == userID
}

func forbidden(w http.ResponseWriter) {
	services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
