package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/readerline/backend/internal/audit"
	"github.com/readerline/backend/internal/config"
	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, ev models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockPaymentProvider struct {
	mock.Mock
}

func (m *MockPaymentProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeResult), args.Error(1)
}

// recordingNotifier keeps every published event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingNotifier) Publish(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// manualTicker delivers ticks only when the test fires them.
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

// fire hands one tick to the clock. It reports false once the clock has exited.
func (t *manualTicker) fire(at time.Time) bool {
	select {
	case t.ch <- at:
		return true
	case <-t.stopped:
		return false
	}
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		TickInterval:     time.Minute,
		PlatformTakeBps:  3000,
		MaxLedgerRetries: 3,
		LedgerTimeout:    time.Second,
		Currency:         "USD",
	}
}

type harness struct {
	store    store.Store
	mem      *store.Memory
	guard    *BalanceGuard
	split    *RevenueSplit
	registry *Registry
	events   *recordingNotifier
	manager  *SessionManager
	tickers  chan *manualTicker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	mem.PutUser(models.UserLedger{UserID: "reader-1", Role: models.RoleReader, ChatRate: 300, VoiceRate: 450, VideoRate: 600})
	mem.PutUser(models.UserLedger{UserID: "client-1", Role: models.RoleClient, Balance: 20000})
	return newHarnessWithStore(t, mem, mem)
}

func newHarnessWithStore(t *testing.T, s store.Store, mem *store.Memory) *harness {
	t.Helper()
	split, err := NewRevenueSplit(3000)
	require.NoError(t, err)

	h := &harness{
		store:    s,
		mem:      mem,
		guard:    NewBalanceGuard(s),
		split:    split,
		registry: NewRegistry(),
		events:   &recordingNotifier{},
		tickers:  make(chan *manualTicker, 16),
	}
	h.manager = NewSessionManager(s, h.guard, split, h.registry, h.events,
		audit.NewLogger(zerolog.Nop()), zerolog.Nop(), testBillingConfig(),
		WithTicker(func(time.Duration) Ticker {
			mt := newManualTicker()
			h.tickers <- mt
			return mt
		}),
		WithNow(func() time.Time { return testEpoch }),
		WithSleep(func(time.Duration) {}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.manager.Shutdown(ctx)
	})
	return h
}

// startSession creates and connects a video session and returns its ticker.
func (h *harness) startSession(t *testing.T, clientID string) (*models.Session, *manualTicker) {
	t.Helper()
	ctx := context.Background()
	s, err := h.manager.Create(ctx, CreateSessionRequest{ReaderID: "reader-1", ClientID: clientID, Mode: models.ModeVideo})
	require.NoError(t, err)
	_, err = h.manager.MarkConnected(ctx, s.ID)
	require.NoError(t, err)

	select {
	case tk := <-h.tickers:
		return s, tk
	default:
		t.Fatal("billing clock was not started")
		return nil, nil
	}
}

func (h *harness) waitMinutes(t *testing.T, sessionID string, minutes int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.manager.GetState(context.Background(), sessionID)
		return err == nil && s.Minutes >= minutes
	}, time.Second, time.Millisecond)
}

func (h *harness) waitSettled(t *testing.T, sessionID string) *models.SettlementLog {
	t.Helper()
	var log *models.SettlementLog
	require.Eventually(t, func() bool {
		l, err := h.manager.Settlement(context.Background(), sessionID)
		if err != nil {
			return false
		}
		log = l
		return h.registry.Len() == 0
	}, time.Second, time.Millisecond)
	return log
}

func (h *harness) user(t *testing.T, userID string) *models.UserLedger {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u
}
