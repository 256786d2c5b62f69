package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/readerline/backend/internal/models"
)

// RateLimiter is a fixed-window counter in Redis. A nil client allows everything.
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow counts one action for key and fails with ErrRateLimited once the
// window's budget is spent.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.client == nil || l.limit <= 0 {
		return nil
	}

	redisKey := fmt.Sprintf("%s:ratelimit:%s", l.prefix, key)
	count, err := l.client.Get(ctx, redisKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if count >= l.limit {
		return models.ErrRateLimited
	}

	pipe := l.client.Pipeline()
	pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	_, err = pipe.Exec(ctx)
	return err
}
