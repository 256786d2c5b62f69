package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

// keyedMutex serializes work per user id. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires every key in sorted order and returns the matching unlock.
func (k *keyedMutex) Lock(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			uniq = append(uniq, key)
		}
	}
	sort.Strings(uniq)

	entries := make([]*keyedEntry, len(uniq))
	for i, key := range uniq {
		k.mu.Lock()
		e, ok := k.locks[key]
		if !ok {
			e = &keyedEntry{}
			k.locks[key] = e
		}
		e.refs++
		k.mu.Unlock()

		e.mu.Lock()
		entries[i] = e
	}

	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
			k.mu.Lock()
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, uniq[i])
			}
			k.mu.Unlock()
		}
	}
}

// BalanceGuard is the only path that mutates balances and earnings. Every
// operation holds the per-user critical section of the users it touches and
// runs as a single ledger transaction.
type BalanceGuard struct {
	store store.Store
	locks *keyedMutex
}

func NewBalanceGuard(s store.Store) *BalanceGuard {
	return &BalanceGuard{store: s, locks: newKeyedMutex()}
}

// Authorize reports whether clientID can currently afford amount. It never mutates.
func (g *BalanceGuard) Authorize(ctx context.Context, clientID string, amount int64) (bool, error) {
	unlock := g.locks.Lock(clientID)
	defer unlock()
	return g.authorizeLocked(ctx, clientID, amount)
}

func (g *BalanceGuard) authorizeLocked(ctx context.Context, clientID string, amount int64) (bool, error) {
	u, err := g.store.GetUser(ctx, clientID)
	if err != nil {
		return false, err
	}
	return u.Balance >= amount, nil
}

// ApplyTick authorizes and applies one billed minute atomically with respect
// to every other debit against the same client.
func (g *BalanceGuard) ApplyTick(ctx context.Context, tick models.Tick) (*store.TickResult, error) {
	unlock := g.locks.Lock(tick.ClientID, tick.ReaderID)
	defer unlock()

	ok, err := g.authorizeLocked(ctx, tick.ClientID, tick.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrInsufficientFunds
	}
	return g.store.ApplyTick(ctx, tick)
}

// Settle writes the settlement log and moves the reader's pending earnings.
func (g *BalanceGuard) Settle(ctx context.Context, log *models.SettlementLog, endedAt time.Time) (*models.SettlementLog, bool, error) {
	unlock := g.locks.Lock(log.ReaderID)
	defer unlock()
	return g.store.FinalizeSession(ctx, log, endedAt)
}

// SendGift debits the sender and records an unprocessed gift.
func (g *BalanceGuard) SendGift(ctx context.Context, gift *models.Gift) (*models.UserLedger, error) {
	unlock := g.locks.Lock(gift.SenderID)
	defer unlock()

	ok, err := g.authorizeLocked(ctx, gift.SenderID, gift.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrInsufficientFunds
	}
	return g.store.CreateGift(ctx, gift)
}

// CreditGift credits the recipient's share of a gift exactly once.
func (g *BalanceGuard) CreditGift(ctx context.Context, gift *models.Gift, readerShare, platformShare int64, at time.Time) (*models.Gift, error) {
	unlock := g.locks.Lock(gift.RecipientID)
	defer unlock()
	return g.store.ProcessGift(ctx, gift.ID, readerShare, platformShare, at)
}

// TopUp credits a successfully charged amount to the user's balance.
func (g *BalanceGuard) TopUp(ctx context.Context, userID string, amount int64, chargeID string) (*models.UserLedger, error) {
	unlock := g.locks.Lock(userID)
	defer unlock()
	return g.store.Credit(ctx, userID, amount, chargeID, "topup")
}
