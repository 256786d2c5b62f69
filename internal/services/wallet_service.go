package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/audit"
	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

// WalletService exposes balances and funds them through the payment provider.
type WalletService struct {
	store    store.Store
	guard    *BalanceGuard
	provider PaymentProvider
	audit    *audit.Logger
	log      zerolog.Logger
	currency string
}

func NewWalletService(s store.Store, guard *BalanceGuard, provider PaymentProvider, auditLog *audit.Logger, log zerolog.Logger, currency string) *WalletService {
	return &WalletService{
		store:    s,
		guard:    guard,
		provider: provider,
		audit:    auditLog,
		log:      log.With().Str("component", "wallet_service").Logger(),
		currency: currency,
	}
}

func (w *WalletService) Get(ctx context.Context, userID string) (*models.UserLedger, error) {
	return w.store.GetUser(ctx, userID)
}

func (w *WalletService) Entries(ctx context.Context, userID string, limit int) ([]*models.LedgerEntry, error) {
	if _, err := w.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return w.store.ListLedgerEntries(ctx, userID, limit)
}

// TopUp charges the provider for amount and credits the balance on success.
// An empty idempotencyKey gets a generated one.
func (w *WalletService) TopUp(ctx context.Context, userID string, amount int64, idempotencyKey string) (*models.UserLedger, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if w.provider == nil {
		return nil, models.ErrPaymentUnavailable
	}
	if _, err := w.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	charge, err := w.provider.Charge(ctx, ChargeRequest{
		UserID:         userID,
		Amount:         amount,
		Currency:       w.currency,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		w.log.Warn().Err(err).Str("user_id", userID).Int64("amount", amount).Msg("Top-up charge failed")
		return nil, err
	}

	u, err := w.guard.TopUp(ctx, userID, amount, charge.ChargeID)
	if err != nil {
		// charged but not credited
		w.log.Error().Err(err).
			Str("user_id", userID).
			Str("charge_id", charge.ChargeID).
			Int64("amount", amount).
			Msg("Top-up credit failed after successful charge")
		w.audit.LogError(charge.ChargeID, userID, err)
		return nil, err
	}

	w.audit.LogTopUp(charge.ChargeID, userID, amount)
	w.log.Info().
		Str("user_id", userID).
		Str("charge_id", charge.ChargeID).
		Int64("amount", amount).
		Int64("balance", u.Balance).
		Msg("Wallet topped up")
	return u, nil
}
