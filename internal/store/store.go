// Package store persists balances, sessions, settlement logs, gifts and
// livestreams. Every mutation of a user's money columns happens inside a
// single transaction together with its ledger entries.
package store

import (
	"context"
	"time"

	"github.com/readerline/backend/internal/models"
)

// TickResult is the ledger state right after a tick was applied.
type TickResult struct {
	ClientBalance     int64
	Minutes           int64
	AccumulatedAmount int64
}

// Store is the durable ledger used by the billing engine.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.UserLedger, error)
	// Credit adds amount to the user's balance (wallet top-up).
	Credit(ctx context.Context, userID string, amount int64, reference, reason string) (*models.UserLedger, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*models.LedgerEntry, error)

	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// UpdateSessionState moves a live session between non-terminal states.
	// connectedAt is recorded when not nil.
	UpdateSessionState(ctx context.Context, sessionID string, state models.SessionState, connectedAt *time.Time) error
	// ApplyTick debits the client and credits the reader's pending earnings for
	// one billed minute. It fails with ErrInsufficientFunds without mutating
	// anything, and with ErrTickAlreadyApplied for a replayed sequence.
	ApplyTick(ctx context.Context, tick models.Tick) (*TickResult, error)
	// FinalizeSession writes the settlement log and releases the reader's
	// pending earnings. created is false when a log already existed, in which
	// case the stored log is returned and nothing is applied.
	FinalizeSession(ctx context.Context, log *models.SettlementLog, endedAt time.Time) (stored *models.SettlementLog, created bool, err error)
	GetSettlement(ctx context.Context, sessionID string) (*models.SettlementLog, error)
	// ListStaleSessions returns non-terminal sessions with no activity since before.
	ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]*models.Session, error)

	CreateLivestream(ctx context.Context, l *models.Livestream) error
	GetLivestream(ctx context.Context, livestreamID string) (*models.Livestream, error)
	EndLivestream(ctx context.Context, livestreamID string, at time.Time) (*models.Livestream, error)
	ListExpiredLivestreams(ctx context.Context, now time.Time, limit int) ([]*models.Livestream, error)

	// CreateGift debits the sender and stores an unprocessed gift atomically.
	CreateGift(ctx context.Context, g *models.Gift) (*models.UserLedger, error)
	ListUnprocessedGifts(ctx context.Context, limit int) ([]*models.Gift, error)
	// ProcessGift marks the gift processed and credits the recipient's earnings
	// in one step. A gift that is already processed yields ErrGiftAlreadyProcessed.
	ProcessGift(ctx context.Context, giftID string, readerShare, platformShare int64, at time.Time) (*models.Gift, error)
}

var liveStates = []models.SessionState{
	models.StatePending,
	models.StateConnecting,
	models.StateActive,
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
