package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/readerline/backend/internal/models"
)

const (
	SessionEventsChannel = "session_events"
	SettlementQueue      = "settlement_queue"
)

// Notifier delivers session and gift events to interested parties.
type Notifier interface {
	Publish(ctx context.Context, ev models.Event) error
}

// MultiNotifier fans an event out to every notifier, collecting failures.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisNotifier publishes every event on a pub/sub channel and queues
// settlements and processed gifts for downstream payout processing.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	queue   string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: SessionEventsChannel,
		queue:   SettlementQueue,
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev models.Event) error {
	if n == nil || n.client == nil {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	var queued any
	switch {
	case ev.Type == models.EventSessionEnded && ev.Settlement != nil:
		queued = ev.Settlement
	case ev.Type == models.EventGiftProcessed && ev.Gift != nil:
		queued = ev.Gift
	default:
		return nil
	}

	payload, err := json.Marshal(queued)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	if err := n.client.RPush(ctx, n.queue, string(payload)).Err(); err != nil {
		return fmt.Errorf("queue %s: %w", ev.Type, err)
	}
	return nil
}
