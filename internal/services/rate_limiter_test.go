package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/readerline/backend/internal/models"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	key := "gifts:ratelimit:fan-1"

	t.Run("first action in window", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		l := NewRateLimiter(client, "gifts", 3, time.Minute)

		mock.ExpectGet(key).RedisNil()
		mock.ExpectIncr(key).SetVal(1)
		mock.ExpectExpire(key, time.Minute).SetVal(true)

		assert.NoError(t, l.Allow(ctx, "fan-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("budget spent", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		l := NewRateLimiter(client, "gifts", 3, time.Minute)

		mock.ExpectGet(key).SetVal("3")

		assert.ErrorIs(t, l.Allow(ctx, "fan-1"), models.ErrRateLimited)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure is returned", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		l := NewRateLimiter(client, "gifts", 3, time.Minute)

		mock.ExpectGet(key).SetErr(errors.New("i/o timeout"))

		err := l.Allow(ctx, "fan-1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrRateLimited)
	})

	t.Run("disabled", func(t *testing.T) {
		var nilLimiter *RateLimiter
		assert.NoError(t, nilLimiter.Allow(ctx, "fan-1"))
		assert.NoError(t, NewRateLimiter(nil, "gifts", 3, time.Minute).Allow(ctx, "fan-1"))

		client, mock := redismock.NewClientMock()
		assert.NoError(t, NewRateLimiter(client, "gifts", 0, time.Minute).Allow(ctx, "fan-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
