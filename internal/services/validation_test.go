package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSessionRequest struct {
	ReaderID string `validate:"required"`
	ClientID string `validate:"required,nefield=ReaderID"`
	Mode     string `validate:"required,session_mode"`
	Rate     int64  `validate:"gte=0"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&testSessionRequest{ReaderID: "r1", ClientID: "c1", Mode: "video", Rate: 600})
		assert.NoError(t, err)
	})

	t.Run("missing and invalid fields", func(t *testing.T) {
		err := vh.ValidateStruct(&testSessionRequest{ReaderID: "r1", ClientID: "r1", Mode: "fax", Rate: -1})
		require.Error(t, err)

		var fieldErrs validator.ValidationErrors
		require.True(t, errors.As(err, &fieldErrs))
		assert.Len(t, fieldErrs, 3)
	})

	t.Run("unknown session mode", func(t *testing.T) {
		err := vh.ValidateStruct(&testSessionRequest{ReaderID: "r1", ClientID: "c1", Mode: "smoke-signal"})
		require.Error(t, err)

		var fieldErrs validator.ValidationErrors
		require.True(t, errors.As(err, &fieldErrs))
		assert.Equal(t, "Mode", fieldErrs[0].Field())
		assert.Equal(t, "session_mode", fieldErrs[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("wrapped validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&testSessionRequest{Mode: "chat"})
		require.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, fmt.Errorf("decode: %w", validationErr))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Contains(t, response.Details, "ReaderID")
		assert.Contains(t, response.Details, "ClientID")
	})

	t.Run("non validation error carries no details", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, errors.New("boom"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Invalid request", response.Error)
		assert.Nil(t, response.Details)
	})
}
