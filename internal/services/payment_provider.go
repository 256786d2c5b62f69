package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/readerline/backend/internal/models"
)

// ChargeRequest asks the payment provider for a fixed amount.
type ChargeRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"-"`
}

type ChargeResult struct {
	ChargeID string `json:"id"`
	Status   string `json:"status"`
}

// PaymentProvider charges a user's external payment method.
type PaymentProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// HTTPPaymentProvider talks to a card processor's REST charges endpoint.
type HTTPPaymentProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPPaymentProvider(baseURL, apiKey string, timeout time.Duration) *HTTPPaymentProvider {
	return &HTTPPaymentProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPaymentProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, models.ErrPaymentDeclined
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", models.ErrPaymentUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("charge rejected with status %d", resp.StatusCode)
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	if result.Status != "succeeded" {
		return nil, fmt.Errorf("%w: charge %s is %s", models.ErrPaymentDeclined, result.ChargeID, result.Status)
	}
	return &result, nil
}
