package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

func newWalletFixture(provider PaymentProvider) (*WalletService, *store.Memory) {
	mem := store.NewMemory()
	mem.PutUser(models.UserLedger{UserID: "client-1", Role: models.RoleClient, Balance: 100})
	return NewWalletService(mem, NewBalanceGuard(mem), provider, nil, zerolog.Nop(), "USD"), mem
}

func TestWalletService_TopUp(t *testing.T) {
	ctx := context.Background()
	provider := new(MockPaymentProvider)
	svc, mem := newWalletFixture(provider)

	provider.On("Charge", mock.Anything, mock.MatchedBy(func(req ChargeRequest) bool {
		return req.UserID == "client-1" && req.Amount == 2500 && req.Currency == "USD" && req.IdempotencyKey == "key-1"
	})).Return(&ChargeResult{ChargeID: "ch_123", Status: "succeeded"}, nil)

	u, err := svc.TopUp(ctx, "client-1", 2500, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2600), u.Balance)

	entries, err := svc.Entries(ctx, "client-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ch_123", entries[0].ReferenceID)
	assert.Equal(t, models.EntryCredit, entries[0].EntryType)

	stored, _ := mem.GetUser(ctx, "client-1")
	assert.Equal(t, int64(2600), stored.Balance)
	provider.AssertExpectations(t)
}

func TestWalletService_TopUpDeclined(t *testing.T) {
	ctx := context.Background()
	provider := new(MockPaymentProvider)
	svc, _ := newWalletFixture(provider)

	provider.On("Charge", mock.Anything, mock.Anything).Return(nil, models.ErrPaymentDeclined)

	_, err := svc.TopUp(ctx, "client-1", 500, "")
	assert.ErrorIs(t, err, models.ErrPaymentDeclined)

	u, err := svc.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	call := provider.Calls[0].Arguments.Get(1).(ChargeRequest)
	assert.NotEmpty(t, call.IdempotencyKey, "a key is generated when none is given")
}

func TestWalletService_TopUpRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	provider := new(MockPaymentProvider)
	svc, _ := newWalletFixture(provider)

	_, err := svc.TopUp(ctx, "client-1", 0, "")
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	_, err = svc.TopUp(ctx, "ghost", 100, "")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
	provider.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)

	noProvider, _ := newWalletFixture(nil)
	_, err = noProvider.TopUp(ctx, "client-1", 100, "")
	assert.ErrorIs(t, err, models.ErrPaymentUnavailable)
}

func TestWalletService_CreditFailureAfterCharge(t *testing.T) {
	ctx := context.Background()
	provider := new(MockPaymentProvider)
	svc, mem := newWalletFixture(provider)
	provider.On("Charge", mock.Anything, mock.Anything).Return(&ChargeResult{ChargeID: "ch_9", Status: "succeeded"}, nil)

	mem.FailNext(1, errors.New("connection reset"))
	_, err := svc.TopUp(ctx, "client-1", 100, "k")
	assert.Error(t, err)

	_, err = svc.Entries(ctx, "ghost", 10)
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}
