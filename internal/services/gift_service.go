package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/audit"
	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

type SendGiftRequest struct {
	SenderID     string
	RecipientID  string
	LivestreamID string
	Amount       int64
}

// GiftService runs livestreams and accepts gifts. Gifts are paid for at send
// time and credited to the reader later by the settlement worker.
type GiftService struct {
	store    store.Store
	guard    *BalanceGuard
	limiter  *RateLimiter
	notifier Notifier
	audit    *audit.Logger
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewGiftService(s store.Store, guard *BalanceGuard, limiter *RateLimiter, notifier Notifier, auditLog *audit.Logger, log zerolog.Logger) *GiftService {
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	return &GiftService{
		store:    s,
		guard:    guard,
		limiter:  limiter,
		notifier: notifier,
		audit:    auditLog,
		log:      log.With().Str("component", "gift_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (g *GiftService) StartLivestream(ctx context.Context, readerID string, duration time.Duration) (*models.Livestream, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("livestream duration must be positive, got %s", duration)
	}
	reader, err := g.store.GetUser(ctx, readerID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown reader %s", models.ErrInvalidParty, readerID)
	}
	if err != nil {
		return nil, err
	}
	if reader.Role != models.RoleReader {
		return nil, fmt.Errorf("%w: %s is not a reader", models.ErrInvalidParty, readerID)
	}

	now := g.now()
	l := &models.Livestream{
		ID:             g.newID(),
		ReaderID:       readerID,
		Status:         models.LivestreamLive,
		StartedAt:      now,
		ScheduledEndAt: now.Add(duration),
	}
	if err := g.store.CreateLivestream(ctx, l); err != nil {
		return nil, fmt.Errorf("persist livestream: %w", err)
	}

	g.log.Info().
		Str("livestream_id", l.ID).
		Str("reader_id", readerID).
		Time("scheduled_end_at", l.ScheduledEndAt).
		Msg("Livestream started")
	return l, nil
}

func (g *GiftService) EndLivestream(ctx context.Context, livestreamID string) (*models.Livestream, error) {
	l, err := g.store.EndLivestream(ctx, livestreamID, g.now())
	if err != nil {
		return nil, err
	}

	g.log.Info().Str("livestream_id", l.ID).Msg("Livestream ended")
	if err := g.notifier.Publish(ctx, models.Event{
		Type:         models.EventLivestreamEnded,
		LivestreamID: l.ID,
		UserIDs:      []string{l.ReaderID},
		At:           g.now(),
	}); err != nil {
		g.log.Warn().Err(err).Str("livestream_id", l.ID).Msg("Failed to publish event")
	}
	return l, nil
}

func (g *GiftService) GetLivestream(ctx context.Context, livestreamID string) (*models.Livestream, error) {
	return g.store.GetLivestream(ctx, livestreamID)
}

// SendGift debits the sender and records the gift for the next sweep.
func (g *GiftService) SendGift(ctx context.Context, req SendGiftRequest) (*models.Gift, error) {
	if req.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if req.SenderID == "" || req.SenderID == req.RecipientID {
		return nil, fmt.Errorf("%w: sender and recipient must be two different users", models.ErrInvalidParty)
	}

	if err := g.limiter.Allow(ctx, req.SenderID); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			return nil, err
		}
		g.log.Warn().Err(err).Str("sender_id", req.SenderID).Msg("Rate limiter unavailable, allowing gift")
	}

	gift := &models.Gift{
		ID:           g.newID(),
		SenderID:     req.SenderID,
		RecipientID:  req.RecipientID,
		LivestreamID: req.LivestreamID,
		Amount:       req.Amount,
		CreatedAt:    g.now(),
	}
	sender, err := g.guard.SendGift(ctx, gift)
	if err != nil {
		return nil, err
	}

	g.audit.LogGift(gift.ID, gift.RecipientID, gift.Amount, 0, "SENT")
	g.log.Info().
		Str("gift_id", gift.ID).
		Str("sender_id", gift.SenderID).
		Str("livestream_id", gift.LivestreamID).
		Int64("amount", gift.Amount).
		Int64("sender_balance", sender.Balance).
		Msg("Gift sent")

	if err := g.notifier.Publish(ctx, models.Event{
		Type:         models.EventGiftSent,
		LivestreamID: gift.LivestreamID,
		UserIDs:      []string{gift.RecipientID, gift.SenderID},
		Gift:         gift,
		At:           gift.CreatedAt,
	}); err != nil {
		g.log.Warn().Err(err).Str("gift_id", gift.ID).Msg("Failed to publish event")
	}
	return gift, nil
}
