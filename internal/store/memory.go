package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readerline/backend/internal/models"
)

// Memory is an in-process Store used for local runs and engine tests.
// All methods hold one mutex, so each call is atomic like a transaction.
type Memory struct {
	mu          sync.Mutex
	users       map[string]models.UserLedger
	sessions    map[string]models.Session
	settlements map[string]models.SettlementLog
	livestreams map[string]models.Livestream
	gifts       map[string]models.Gift
	giftOrder   []string
	entries     []models.LedgerEntry

	now func() time.Time

	// failNext makes the next n mutating calls fail, for retry tests.
	failNext int
	failErr  error
}

func NewMemory() *Memory {
	return &Memory{
		users:       map[string]models.UserLedger{},
		sessions:    map[string]models.Session{},
		settlements: map[string]models.SettlementLog{},
		livestreams: map[string]models.Livestream{},
		gifts:       map[string]models.Gift{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutUser creates or replaces a user row.
func (m *Memory) PutUser(u models.UserLedger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
}

// FailNext makes the next n mutating calls return err without applying anything.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

func (m *Memory) injectedFailure() error {
	if m.failNext <= 0 {
		return nil
	}
	m.failNext--
	return m.failErr
}

func (m *Memory) GetUser(_ context.Context, userID string) (*models.UserLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	return &u, nil
}

func (m *Memory) Credit(_ context.Context, userID string, amount int64, reference, reason string) (*models.UserLedger, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	m.adjust(&u, models.AccountBalance, amount, reference, reason)
	m.users[userID] = u
	return &u, nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, userID string, limit int) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			e := m.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *Memory) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	return &s, nil
}

func (m *Memory) UpdateSessionState(_ context.Context, sessionID string, state models.SessionState, connectedAt *time.Time) error {
	if state.IsTerminal() {
		return fmt.Errorf("terminal state %s is only written by settlement", state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if s.State.IsTerminal() {
		return fmt.Errorf("%w: session %s is %s", models.ErrSessionNotActive, sessionID, s.State)
	}
	s.State = state
	if connectedAt != nil {
		at := *connectedAt
		s.ConnectedAt = &at
	}
	m.sessions[sessionID] = s
	return nil
}

func (m *Memory) ApplyTick(_ context.Context, tick models.Tick) (*TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return nil, err
	}

	s, ok := m.sessions[tick.SessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, tick.SessionID)
	}
	if tick.Sequence <= s.Minutes {
		return nil, fmt.Errorf("%w: session %s minute %d", models.ErrTickAlreadyApplied, tick.SessionID, tick.Sequence)
	}
	if s.State != models.StateActive {
		return nil, fmt.Errorf("%w: session %s is %s", models.ErrSessionNotActive, tick.SessionID, s.State)
	}
	if tick.Sequence != s.Minutes+1 {
		return nil, fmt.Errorf("%w: session %s expected minute %d, got %d",
			models.ErrTickOutOfOrder, tick.SessionID, s.Minutes+1, tick.Sequence)
	}

	client, ok := m.users[tick.ClientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, tick.ClientID)
	}
	reader, ok := m.users[tick.ReaderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, tick.ReaderID)
	}
	if client.Balance < tick.Amount {
		return nil, fmt.Errorf("%w: balance %d, minute costs %d", models.ErrInsufficientFunds, client.Balance, tick.Amount)
	}

	m.adjust(&client, models.AccountBalance, -tick.Amount, tick.SessionID, "session_tick")
	m.adjust(&reader, models.AccountPendingEarnings, tick.Amount, tick.SessionID, "session_tick")
	m.users[client.UserID] = client
	m.users[reader.UserID] = reader

	at := tick.At
	s.Minutes = tick.Sequence
	s.AccumulatedAmount += tick.Amount
	s.LastTickAt = &at
	m.sessions[s.ID] = s

	return &TickResult{
		ClientBalance:     client.Balance,
		Minutes:           s.Minutes,
		AccumulatedAmount: s.AccumulatedAmount,
	}, nil
}

func (m *Memory) FinalizeSession(_ context.Context, log *models.SettlementLog, endedAt time.Time) (*models.SettlementLog, bool, error) {
	if !log.Balanced() {
		return nil, false, fmt.Errorf("%w: shares do not add up to %d", models.ErrLedgerWrite, log.TotalAmount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return nil, false, err
	}

	s, ok := m.sessions[log.SessionID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", models.ErrSessionNotFound, log.SessionID)
	}
	if existing, ok := m.settlements[log.SessionID]; ok {
		return &existing, false, nil
	}
	if s.AccumulatedAmount != log.TotalAmount {
		return nil, false, fmt.Errorf("%w: settlement total %d does not match billed amount %d",
			models.ErrLedgerWrite, log.TotalAmount, s.AccumulatedAmount)
	}

	if log.TotalAmount > 0 {
		reader, ok := m.users[s.ReaderID]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", models.ErrUserNotFound, s.ReaderID)
		}
		if reader.PendingEarnings < log.TotalAmount {
			return nil, false, fmt.Errorf("%w: pending_earnings of user %s would become negative", models.ErrLedgerWrite, reader.UserID)
		}
		m.adjust(&reader, models.AccountPendingEarnings, -log.TotalAmount, s.ID, "session_settlement")
		if log.ReaderShare > 0 {
			m.adjust(&reader, models.AccountEarnings, log.ReaderShare, s.ID, "session_settlement")
		}
		m.users[reader.UserID] = reader
	}

	record := *log
	record.CreatedAt = endedAt
	m.settlements[s.ID] = record

	ended := endedAt
	s.State = record.Status
	s.EndedAt = &ended
	m.sessions[s.ID] = s

	return &record, true, nil
}

func (m *Memory) GetSettlement(_ context.Context, sessionID string) (*models.SettlementLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.settlements[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSettlementNotFound, sessionID)
	}
	return &l, nil
}

func (m *Memory) ListStaleSessions(_ context.Context, before time.Time, limit int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.State.IsTerminal() || !s.LastActivity().Before(before) {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateLivestream(_ context.Context, l *models.Livestream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.livestreams[l.ID] = *l
	return nil
}

func (m *Memory) GetLivestream(_ context.Context, livestreamID string) (*models.Livestream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.livestreams[livestreamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamNotFound, livestreamID)
	}
	return &l, nil
}

func (m *Memory) EndLivestream(_ context.Context, livestreamID string, at time.Time) (*models.Livestream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.livestreams[livestreamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamNotFound, livestreamID)
	}
	if l.Status != models.LivestreamLive {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamEnded, livestreamID)
	}
	ended := at
	l.Status = models.LivestreamEnded
	l.EndedAt = &ended
	m.livestreams[l.ID] = l
	return &l, nil
}

func (m *Memory) ListExpiredLivestreams(_ context.Context, now time.Time, limit int) ([]*models.Livestream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Livestream
	for _, l := range m.livestreams {
		if l.Status == models.LivestreamLive && l.ScheduledEndAt.Before(now) {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledEndAt.Before(out[j].ScheduledEndAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateGift(_ context.Context, g *models.Gift) (*models.UserLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return nil, err
	}

	l, ok := m.livestreams[g.LivestreamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamNotFound, g.LivestreamID)
	}
	if l.Status != models.LivestreamLive {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamEnded, g.LivestreamID)
	}
	if l.ReaderID != g.RecipientID {
		return nil, fmt.Errorf("%w: %s does not host livestream %s", models.ErrInvalidParty, g.RecipientID, g.LivestreamID)
	}
	sender, ok := m.users[g.SenderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, g.SenderID)
	}
	if sender.Balance < g.Amount {
		return nil, fmt.Errorf("%w: balance %d, gift costs %d", models.ErrInsufficientFunds, sender.Balance, g.Amount)
	}

	stored := *g
	stored.Processed = false
	stored.ReaderShare, stored.PlatformShare = 0, 0
	m.gifts[g.ID] = stored
	m.giftOrder = append(m.giftOrder, g.ID)

	m.adjust(&sender, models.AccountBalance, -g.Amount, g.ID, "gift_sent")
	m.users[sender.UserID] = sender
	return &sender, nil
}

func (m *Memory) ListUnprocessedGifts(_ context.Context, limit int) ([]*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Gift
	for _, id := range m.giftOrder {
		if len(out) >= limit {
			break
		}
		if g := m.gifts[id]; !g.Processed {
			out = append(out, &g)
		}
	}
	return out, nil
}

func (m *Memory) ProcessGift(_ context.Context, giftID string, readerShare, platformShare int64, at time.Time) (*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return nil, err
	}

	g, ok := m.gifts[giftID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrGiftNotFound, giftID)
	}
	if g.Processed {
		return nil, fmt.Errorf("%w: %s", models.ErrGiftAlreadyProcessed, giftID)
	}
	if readerShare+platformShare != g.Amount {
		return nil, fmt.Errorf("%w: gift %s shares do not add up to %d", models.ErrLedgerWrite, giftID, g.Amount)
	}

	if readerShare > 0 {
		recipient, ok := m.users[g.RecipientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, g.RecipientID)
		}
		m.adjust(&recipient, models.AccountEarnings, readerShare, g.ID, "gift_processed")
		m.users[recipient.UserID] = recipient
	}

	processedAt := at
	g.Processed = true
	g.ReaderShare = readerShare
	g.PlatformShare = platformShare
	g.ProcessedAt = &processedAt
	m.gifts[giftID] = g
	return &g, nil
}

// adjust must be called with m.mu held; callers check for negative results first.
func (m *Memory) adjust(u *models.UserLedger, account models.Account, delta int64, reference, reason string) {
	var next int64
	switch account {
	case models.AccountBalance:
		u.Balance += delta
		next = u.Balance
	case models.AccountPendingEarnings:
		u.PendingEarnings += delta
		next = u.PendingEarnings
	case models.AccountEarnings:
		u.Earnings += delta
		next = u.Earnings
	}

	entryType := models.EntryCredit
	if delta < 0 {
		entryType = models.EntryDebit
	}
	m.entries = append(m.entries, models.LedgerEntry{
		ID:           uuid.NewString(),
		ReferenceID:  reference,
		UserID:       u.UserID,
		Account:      account,
		EntryType:    entryType,
		Amount:       delta,
		BalanceAfter: next,
		Reason:       reason,
		CreatedAt:    m.now(),
	})
}
