package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

func newGiftFixture(t *testing.T, limiter *RateLimiter) (*GiftService, *store.Memory, *recordingNotifier) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutUser(models.UserLedger{UserID: "reader-1", Role: models.RoleReader})
	mem.PutUser(models.UserLedger{UserID: "fan-1", Role: models.RoleClient, Balance: 1500})
	events := &recordingNotifier{}
	svc := NewGiftService(mem, NewBalanceGuard(mem), limiter, events, nil, zerolog.Nop())
	svc.now = func() time.Time { return testEpoch }
	return svc, mem, events
}

func TestGiftService_StartLivestream(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newGiftFixture(t, nil)

	l, err := svc.StartLivestream(ctx, "reader-1", 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.LivestreamLive, l.Status)
	assert.Equal(t, testEpoch.Add(90*time.Minute), l.ScheduledEndAt)

	_, err = svc.StartLivestream(ctx, "fan-1", time.Hour)
	assert.ErrorIs(t, err, models.ErrInvalidParty)
	_, err = svc.StartLivestream(ctx, "ghost", time.Hour)
	assert.ErrorIs(t, err, models.ErrInvalidParty)
	_, err = svc.StartLivestream(ctx, "reader-1", 0)
	assert.Error(t, err)
}

func TestGiftService_SendGift(t *testing.T) {
	ctx := context.Background()
	svc, mem, events := newGiftFixture(t, nil)
	l, err := svc.StartLivestream(ctx, "reader-1", time.Hour)
	require.NoError(t, err)

	gift, err := svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "reader-1", LivestreamID: l.ID, Amount: 1000})
	require.NoError(t, err)
	assert.False(t, gift.Processed)

	fan, _ := mem.GetUser(ctx, "fan-1")
	assert.Equal(t, int64(500), fan.Balance)
	reader, _ := mem.GetUser(ctx, "reader-1")
	assert.Equal(t, int64(0), reader.Earnings, "earnings wait for the settlement sweep")

	sent := events.ofType(models.EventGiftSent)
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []string{"reader-1", "fan-1"}, sent[0].UserIDs)

	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "reader-1", LivestreamID: l.ID, Amount: 1000})
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestGiftService_SendGiftValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newGiftFixture(t, nil)
	l, err := svc.StartLivestream(ctx, "reader-1", time.Hour)
	require.NoError(t, err)

	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "reader-1", LivestreamID: l.ID, Amount: 0})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "reader-1", RecipientID: "reader-1", LivestreamID: l.ID, Amount: 10})
	assert.ErrorIs(t, err, models.ErrInvalidParty)
	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "someone-else", LivestreamID: l.ID, Amount: 10})
	assert.ErrorIs(t, err, models.ErrInvalidParty)
	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "reader-1", LivestreamID: "nope", Amount: 10})
	assert.ErrorIs(t, err, models.ErrLivestreamNotFound)
}

func TestGiftService_RateLimit(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, "gifts", 1, time.Minute)
	svc, mem, _ := newGiftFixture(t, limiter)
	l, err := svc.StartLivestream(ctx, "reader-1", time.Hour)
	require.NoError(t, err)

	mock.ExpectGet("gifts:ratelimit:fan-1").SetVal("1")
	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "reader-1", LivestreamID: l.ID, Amount: 100})
	assert.ErrorIs(t, err, models.ErrRateLimited)

	fan, _ := mem.GetUser(ctx, "fan-1")
	assert.Equal(t, int64(1500), fan.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGiftService_RateLimiterOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, "gifts", 5, time.Minute)
	svc, _, _ := newGiftFixture(t, limiter)
	l, err := svc.StartLivestream(ctx, "reader-1", time.Hour)
	require.NoError(t, err)

	mock.ExpectGet("gifts:ratelimit:fan-1").SetErr(errors.New("connection refused"))
	_, err = svc.SendGift(ctx, SendGiftRequest{SenderID: "fan-1", RecipientID: "reader-1", LivestreamID: l.ID, Amount: 100})
	assert.NoError(t, err)
}

func TestGiftService_EndLivestream(t *testing.T) {
	ctx := context.Background()
	svc, _, events := newGiftFixture(t, nil)
	l, err := svc.StartLivestream(ctx, "reader-1", time.Hour)
	require.NoError(t, err)

	ended, err := svc.EndLivestream(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LivestreamEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.Len(t, events.ofType(models.EventLivestreamEnded), 1)

	_, err = svc.EndLivestream(ctx, l.ID)
	assert.ErrorIs(t, err, models.ErrLivestreamEnded)
}
