package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/audit"
	"github.com/readerline/backend/internal/config"
	"github.com/readerline/backend/internal/metrics"
	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

// Signaling is the contract a media vendor adapter drives the session state
// machine through.
type Signaling interface {
	OnPartyJoined(ctx context.Context, sessionID string) (*models.Session, error)
	OnBothPartiesConnected(ctx context.Context, sessionID string) (*models.Session, error)
	OnPartyDisconnected(ctx context.Context, sessionID string) (*models.SettlementLog, error)
}

// CreateSessionRequest carries the arguments of SessionManager.Create.
// A zero Rate means the reader's configured rate for Mode. Only trusted
// in-process callers set Rate; the HTTP API never forwards one.
type CreateSessionRequest struct {
	ReaderID string
	ClientID string
	Mode     models.SessionMode
	Rate     int64
}

// SessionManager owns the lifecycle of every billed session: it reacts to
// signaling events, runs one billing clock per active session and writes
// exactly one settlement when a session terminates.
type SessionManager struct {
	store    store.Store
	guard    *BalanceGuard
	split    *RevenueSplit
	registry *Registry
	notifier Notifier
	audit    *audit.Logger
	log      zerolog.Logger
	cfg      config.BillingConfig

	newTicker func(time.Duration) Ticker
	now       func() time.Time
	newID     func() string
	sleep     func(time.Duration)
}

type ManagerOption func(*SessionManager)

// WithTicker replaces the billing clock time source.
func WithTicker(f func(time.Duration) Ticker) ManagerOption {
	return func(m *SessionManager) { m.newTicker = f }
}

// WithNow replaces the wall clock used for timestamps.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// WithIDGenerator replaces the room id generator.
func WithIDGenerator(f func() string) ManagerOption {
	return func(m *SessionManager) { m.newID = f }
}

// WithSleep replaces the retry backoff sleep.
func WithSleep(f func(time.Duration)) ManagerOption {
	return func(m *SessionManager) { m.sleep = f }
}

func NewSessionManager(
	s store.Store,
	guard *BalanceGuard,
	split *RevenueSplit,
	registry *Registry,
	notifier Notifier,
	auditLog *audit.Logger,
	log zerolog.Logger,
	cfg config.BillingConfig,
	opts ...ManagerOption,
) *SessionManager {
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	m := &SessionManager{
		store:     s,
		guard:     guard,
		split:     split,
		registry:  registry,
		notifier:  notifier,
		audit:     auditLog,
		log:       log.With().Str("component", "session_manager").Logger(),
		cfg:       cfg,
		newTicker: NewTimeTicker,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.MaxLedgerRetries < 1 {
		m.cfg.MaxLedgerRetries = 1
	}
	if m.cfg.LedgerTimeout <= 0 {
		m.cfg.LedgerTimeout = 5 * time.Second
	}
	return m
}

// Create validates the parties, fixes the rate and registers a Pending session.
func (m *SessionManager) Create(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidMode, req.Mode)
	}
	if req.ReaderID == "" || req.ClientID == "" || req.ReaderID == req.ClientID {
		return nil, fmt.Errorf("%w: reader and client must be two different users", models.ErrInvalidParty)
	}
	if req.Rate < 0 {
		return nil, models.ErrInvalidRate
	}

	reader, err := m.store.GetUser(ctx, req.ReaderID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown reader %s", models.ErrInvalidParty, req.ReaderID)
	}
	if err != nil {
		return nil, err
	}
	if reader.Role != models.RoleReader {
		return nil, fmt.Errorf("%w: %s is not a reader", models.ErrInvalidParty, req.ReaderID)
	}
	if _, err := m.store.GetUser(ctx, req.ClientID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: unknown client %s", models.ErrInvalidParty, req.ClientID)
		}
		return nil, err
	}

	rate := req.Rate
	if rate == 0 {
		rate = reader.RateFor(req.Mode)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: reader %s has no %s rate", models.ErrInvalidRate, req.ReaderID, req.Mode)
	}

	ok, err := m.guard.Authorize(ctx, req.ClientID, rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: client cannot afford one minute at %d", models.ErrInsufficientFunds, rate)
	}

	session := models.Session{
		ID:        m.newID(),
		ReaderID:  req.ReaderID,
		ClientID:  req.ClientID,
		Mode:      req.Mode,
		Rate:      rate,
		State:     models.StatePending,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateSession(ctx, &session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.registry.put(newSessionRuntime(session))

	m.log.Info().
		Str("session_id", session.ID).
		Str("reader_id", session.ReaderID).
		Str("client_id", session.ClientID).
		Str("mode", string(session.Mode)).
		Int64("rate", session.Rate).
		Msg("Session created")
	m.publish(ctx, m.sessionEvent(models.EventSessionCreated, &session))

	return &session, nil
}

// Join records that the first party reached the room.
func (m *SessionManager) Join(ctx context.Context, sessionID string) (*models.Session, error) {
	return m.OnPartyJoined(ctx, sessionID)
}

// MarkConnected starts billing once both parties are present.
func (m *SessionManager) MarkConnected(ctx context.Context, sessionID string) (*models.Session, error) {
	return m.OnBothPartiesConnected(ctx, sessionID)
}

func (m *SessionManager) OnPartyJoined(ctx context.Context, sessionID string) (*models.Session, error) {
	rt, persisted, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		if persisted.State.IsTerminal() {
			return nil, fmt.Errorf("%w: session %s is %s", models.ErrSessionNotActive, sessionID, persisted.State)
		}
		return nil, m.desync(ctx, persisted, "party joined a session with no runtime")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.session.State {
	case models.StatePending:
		if err := m.store.UpdateSessionState(ctx, sessionID, models.StateConnecting, nil); err != nil {
			return nil, fmt.Errorf("persist connecting state: %w", err)
		}
		rt.session.State = models.StateConnecting
		rt.publishView()
		m.log.Info().Str("session_id", sessionID).Msg("Session connecting")
	case models.StateConnecting, models.StateActive:
	default:
		return nil, fmt.Errorf("%w: session %s is %s", models.ErrSessionNotActive, sessionID, rt.session.State)
	}

	s := rt.session
	return &s, nil
}

func (m *SessionManager) OnBothPartiesConnected(ctx context.Context, sessionID string) (*models.Session, error) {
	rt, persisted, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		if persisted.State.IsTerminal() {
			m.log.Warn().
				Str("session_id", sessionID).
				Str("state", string(persisted.State)).
				Msg("Connected event for a terminated session")
			return nil, fmt.Errorf("%w: session %s is %s", models.ErrSignalingDesync, sessionID, persisted.State)
		}
		return nil, m.desync(ctx, persisted, "connected event for a session with no runtime")
	}

	rt.mu.Lock()
	switch rt.session.State {
	case models.StatePending, models.StateConnecting:
	case models.StateActive:
		s := rt.session
		rt.mu.Unlock()
		return &s, nil
	default:
		state := rt.session.State
		rt.mu.Unlock()
		m.log.Warn().
			Str("session_id", sessionID).
			Str("state", string(state)).
			Msg("Connected event for a terminated session")
		return nil, fmt.Errorf("%w: session %s is %s", models.ErrSignalingDesync, sessionID, state)
	}

	at := m.now()
	if err := m.store.UpdateSessionState(ctx, sessionID, models.StateActive, &at); err != nil {
		rt.mu.Unlock()
		return nil, fmt.Errorf("persist active state: %w", err)
	}
	rt.session.State = models.StateActive
	rt.session.ConnectedAt = &at
	rt.publishView()
	rt.clock = StartBillingClock(m.newTicker(m.cfg.TickInterval), func(tickAt time.Time) bool {
		return m.onTick(rt, tickAt)
	})
	metrics.SessionsActive.Inc()
	s := rt.session
	rt.mu.Unlock()

	m.log.Info().
		Str("session_id", sessionID).
		Dur("tick_interval", m.cfg.TickInterval).
		Msg("Session active, billing clock started")
	m.publish(ctx, m.sessionEvent(models.EventSessionActive, &s))
	return &s, nil
}

func (m *SessionManager) OnPartyDisconnected(ctx context.Context, sessionID string) (*models.SettlementLog, error) {
	return m.RequestEnd(ctx, sessionID, models.EndDisconnected)
}

// RequestEnd terminates the session and returns its settlement. Calling it on
// a session that already ended returns the stored settlement unchanged.
func (m *SessionManager) RequestEnd(ctx context.Context, sessionID string, reason models.EndReason) (*models.SettlementLog, error) {
	if reason == "" {
		reason = models.EndCompleted
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("unknown end reason %q", reason)
	}

	rt, persisted, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		if persisted.State.IsTerminal() {
			return m.store.GetSettlement(ctx, sessionID)
		}
		return m.finalizeDetached(ctx, persisted, reason)
	}
	return m.end(ctx, rt, reason)
}

// Expire force-terminates a session that showed no activity for too long.
// A session that already terminated but failed to settle is settled with its
// original end reason.
func (m *SessionManager) Expire(ctx context.Context, sessionID string) (*models.SettlementLog, error) {
	rt, persisted, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		if persisted.State.IsTerminal() {
			return m.store.GetSettlement(ctx, sessionID)
		}
		return m.finalizeDetached(ctx, persisted, models.EndExpired)
	}
	return m.end(ctx, rt, models.EndExpired)
}

// GetState returns the current view of a session.
func (m *SessionManager) GetState(ctx context.Context, sessionID string) (*models.Session, error) {
	if rt, ok := m.registry.get(sessionID); ok {
		return rt.snapshot(), nil
	}
	return m.store.GetSession(ctx, sessionID)
}

// Settlement returns the settlement log of a terminated session.
func (m *SessionManager) Settlement(ctx context.Context, sessionID string) (*models.SettlementLog, error) {
	return m.store.GetSettlement(ctx, sessionID)
}

// Shutdown stops every billing clock without settling. Sessions left live in
// the store are expired by the settlement worker after a restart.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	runtimes := m.registry.all()
	clocks := make([]*BillingClock, 0, len(runtimes))
	for _, rt := range runtimes {
		rt.mu.Lock()
		if rt.clock != nil {
			rt.clock.Stop()
			clocks = append(clocks, rt.clock)
		}
		rt.mu.Unlock()
	}

	for _, c := range clocks {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	metrics.SessionsActive.Set(0)
	m.log.Info().Int("stopped_clocks", len(clocks)).Msg("Session manager stopped")
	return nil
}

// lookup returns the in-process runtime, or the persisted session when this
// process does not own it.
func (m *SessionManager) lookup(ctx context.Context, sessionID string) (*sessionRuntime, *models.Session, error) {
	if rt, ok := m.registry.get(sessionID); ok {
		return rt, nil, nil
	}
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, s, nil
}

func (m *SessionManager) onTick(rt *sessionRuntime, at time.Time) bool {
	rt.mu.Lock()
	if rt.session.State != models.StateActive {
		rt.mu.Unlock()
		metrics.BillingTicks.WithLabelValues(metrics.TickDiscarded).Inc()
		return false
	}

	tick := models.Tick{
		SessionID: rt.session.ID,
		ClientID:  rt.session.ClientID,
		ReaderID:  rt.session.ReaderID,
		Sequence:  rt.session.Minutes + 1,
		Amount:    rt.session.Rate,
		At:        at,
	}
	result, err := m.applyTick(tick)

	if err == nil {
		rt.session.Minutes = result.Minutes
		rt.session.AccumulatedAmount = result.AccumulatedAmount
		tickAt := at
		rt.session.LastTickAt = &tickAt
		rt.publishView()
		s := rt.session
		rt.mu.Unlock()

		metrics.BillingTicks.WithLabelValues(metrics.TickApplied).Inc()
		m.audit.LogTick(tick.SessionID, tick.ClientID, tick.ReaderID, tick.Sequence, tick.Amount)
		m.publish(context.Background(), m.sessionEvent(models.EventSessionTick, &s))
		return true
	}

	reason := models.EndError
	if errors.Is(err, models.ErrInsufficientFunds) {
		reason = models.EndInsufficientFunds
		metrics.BillingTicks.WithLabelValues(metrics.TickInsufficientFunds).Inc()
		m.log.Info().
			Str("session_id", tick.SessionID).
			Int64("minute", tick.Sequence).
			Msg("Tick rejected for insufficient funds, ending session")
	} else {
		metrics.BillingTicks.WithLabelValues(metrics.TickFailed).Inc()
		m.log.Error().Err(err).
			Str("session_id", tick.SessionID).
			Int64("minute", tick.Sequence).
			Msg("Ledger write failed, terminating session for manual reconciliation")
		m.audit.LogError(tick.SessionID, tick.ClientID, err)
	}
	m.markTerminal(rt, reason)
	rt.mu.Unlock()

	// This goroutine is the clock itself, so it is already stopped.
	if _, err := m.settle(context.Background(), rt); err != nil {
		m.log.Error().Err(err).Str("session_id", tick.SessionID).Msg("Settlement after forced termination failed")
	}
	return false
}

// applyTick retries transient ledger failures. A replayed minute means an
// earlier attempt committed, so the persisted totals are returned instead.
func (m *SessionManager) applyTick(tick models.Tick) (*store.TickResult, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxLedgerRetries; attempt++ {
		if attempt > 1 {
			metrics.LedgerRetries.Inc()
			m.sleep(m.cfg.RetryBackoff * time.Duration(attempt-1))
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LedgerTimeout)
		result, err := m.guard.ApplyTick(ctx, tick)
		if errors.Is(err, models.ErrTickAlreadyApplied) {
			var s *models.Session
			s, err = m.store.GetSession(ctx, tick.SessionID)
			if err == nil {
				result = &store.TickResult{Minutes: s.Minutes, AccumulatedAmount: s.AccumulatedAmount}
				metrics.BillingTicks.WithLabelValues(metrics.TickReplayed).Inc()
			}
		}
		cancel()

		if err == nil {
			return result, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		m.log.Warn().Err(err).
			Str("session_id", tick.SessionID).
			Int("attempt", attempt).
			Msg("Ledger write failed, retrying")
	}
	return nil, fmt.Errorf("%w: %v", models.ErrLedgerWrite, lastErr)
}

func isTransient(err error) bool {
	for _, permanent := range []error{
		models.ErrInsufficientFunds,
		models.ErrSessionNotActive,
		models.ErrSessionNotFound,
		models.ErrTickOutOfOrder,
		models.ErrUserNotFound,
		models.ErrLedgerWrite,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// end moves rt to a terminal state, waits for its clock to exit and settles.
func (m *SessionManager) end(ctx context.Context, rt *sessionRuntime, reason models.EndReason) (*models.SettlementLog, error) {
	rt.mu.Lock()
	if !rt.session.State.IsTerminal() {
		m.markTerminal(rt, reason)
		m.log.Info().
			Str("session_id", rt.session.ID).
			Str("end_reason", string(reason)).
			Msg("Session ending")
	}
	clock := rt.clock
	rt.mu.Unlock()

	if clock != nil {
		select {
		case <-clock.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.settle(ctx, rt)
}

// markTerminal must be called with rt.mu held.
func (m *SessionManager) markTerminal(rt *sessionRuntime, reason models.EndReason) {
	wasActive := rt.session.State == models.StateActive
	at := m.now()
	rt.session.State = reason.TerminalState()
	rt.session.EndedAt = &at
	rt.endReason = reason
	rt.publishView()
	if rt.clock != nil {
		rt.clock.Stop()
	}
	if wasActive {
		metrics.SessionsActive.Dec()
	}
}

// settle writes the settlement of a terminal runtime once. Concurrent callers
// wait for the first one and share its result.
func (m *SessionManager) settle(ctx context.Context, rt *sessionRuntime) (*models.SettlementLog, error) {
	rt.mu.Lock()
	if rt.settlement != nil {
		l := rt.settlement
		rt.mu.Unlock()
		return l, nil
	}
	if rt.settling {
		done := rt.settleDone
		rt.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		rt.mu.Lock()
		l := rt.settlement
		rt.mu.Unlock()
		if l == nil {
			return nil, fmt.Errorf("%w: settlement of session %s failed", models.ErrLedgerWrite, rt.session.ID)
		}
		return l, nil
	}

	rt.settling = true
	rt.settleDone = make(chan struct{})
	s := rt.session
	reason := rt.endReason
	endedAt := rt.endedAt(m.now())
	rt.mu.Unlock()

	stored, created, err := m.writeSettlement(&s, reason, endedAt)

	rt.mu.Lock()
	rt.settling = false
	if err == nil {
		rt.settlement = stored
	}
	close(rt.settleDone)
	rt.mu.Unlock()

	if err != nil {
		m.log.Error().Err(err).
			Str("session_id", s.ID).
			Str("end_reason", string(reason)).
			Msg("Settlement failed, session left for the expiry sweep")
		m.audit.LogError(s.ID, s.ReaderID, err)
		return nil, err
	}

	m.registry.remove(s.ID)
	if created {
		m.announceSettlement(&s, stored)
	}
	return stored, nil
}

// finalizeDetached settles a session persisted as live that has no runtime in
// this process, typically after a restart.
func (m *SessionManager) finalizeDetached(ctx context.Context, s *models.Session, reason models.EndReason) (*models.SettlementLog, error) {
	m.log.Warn().
		Str("session_id", s.ID).
		Str("state", string(s.State)).
		Str("end_reason", string(reason)).
		Msg("Finalizing session without a live runtime")

	ended := *s
	ended.State = reason.TerminalState()
	endedAt := m.now()
	ended.EndedAt = &endedAt

	stored, created, err := m.writeSettlement(&ended, reason, endedAt)
	if err != nil {
		m.audit.LogError(s.ID, s.ReaderID, err)
		return nil, err
	}
	if created {
		m.announceSettlement(&ended, stored)
	}
	return stored, nil
}

// desync force-terminates a session whose signaling no longer matches what
// this process knows about it.
func (m *SessionManager) desync(ctx context.Context, s *models.Session, detail string) error {
	m.log.Error().
		Str("session_id", s.ID).
		Str("state", string(s.State)).
		Msg("Signaling desync: " + detail)
	if _, err := m.finalizeDetached(ctx, s, models.EndError); err != nil {
		return fmt.Errorf("%w: %s; forced termination failed: %v", models.ErrSignalingDesync, detail, err)
	}
	return fmt.Errorf("%w: %s", models.ErrSignalingDesync, detail)
}

func (m *SessionManager) writeSettlement(s *models.Session, reason models.EndReason, endedAt time.Time) (*models.SettlementLog, bool, error) {
	readerShare, platformShare := m.split.Split(s.AccumulatedAmount)
	log := &models.SettlementLog{
		SessionID:     s.ID,
		ReaderID:      s.ReaderID,
		ClientID:      s.ClientID,
		Mode:          s.Mode,
		Duration:      s.Minutes,
		TotalAmount:   s.AccumulatedAmount,
		ReaderShare:   readerShare,
		PlatformShare: platformShare,
		Status:        reason.TerminalState(),
		EndReason:     reason,
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxLedgerRetries; attempt++ {
		if attempt > 1 {
			metrics.LedgerRetries.Inc()
			m.sleep(m.cfg.RetryBackoff * time.Duration(attempt-1))
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LedgerTimeout)
		stored, created, err := m.guard.Settle(ctx, log, endedAt)
		cancel()
		if err == nil {
			return stored, created, nil
		}
		if !isTransient(err) {
			return nil, false, err
		}
		lastErr = err
	}
	return nil, false, fmt.Errorf("%w: %v", models.ErrLedgerWrite, lastErr)
}

func (m *SessionManager) announceSettlement(s *models.Session, l *models.SettlementLog) {
	metrics.ObserveSettlement(string(l.EndReason), l.TotalAmount, l.ReaderShare, l.PlatformShare)
	m.audit.LogSettlement(l.SessionID, l.ReaderID, l.TotalAmount, l.ReaderShare, l.PlatformShare, string(l.EndReason))

	m.log.Info().
		Str("session_id", l.SessionID).
		Str("end_reason", string(l.EndReason)).
		Int64("minutes", l.Duration).
		Int64("total_amount", l.TotalAmount).
		Int64("reader_share", l.ReaderShare).
		Int64("platform_share", l.PlatformShare).
		Msg("Session settled")

	m.publish(context.Background(), models.SessionEndedEvent(s, l, m.now()))
}

func (m *SessionManager) sessionEvent(t models.EventType, s *models.Session) models.Event {
	return models.Event{
		Type:              t,
		SessionID:         s.ID,
		UserIDs:           []string{s.ReaderID, s.ClientID},
		State:             s.State,
		Minutes:           s.Minutes,
		AccumulatedAmount: s.AccumulatedAmount,
		At:                m.now(),
	}
}

func (m *SessionManager) publish(ctx context.Context, ev models.Event) {
	if err := m.notifier.Publish(ctx, ev); err != nil {
		m.log.Warn().Err(err).
			Str("session_id", ev.SessionID).
			Str("type", string(ev.Type)).
			Msg("Failed to publish event")
	}
}

var _ Signaling = (*SessionManager)(nil)
