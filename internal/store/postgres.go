package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/readerline/backend/internal/models"
)

const (
	userColumns       = `id, role, balance, pending_earnings, earnings, chat_rate, voice_rate, video_rate`
	sessionColumns    = `room_id, reader_id, client_id, session_type, rate, state, minutes, accumulated, created_at, connected_at, last_tick_at, ended_at`
	settlementColumns = `room_id, reader_id, client_id, session_type, duration, total_amount, reader_earned, platform_earned, status, end_reason, created_at`
	livestreamColumns = `id, reader_id, status, started_at, scheduled_end_at, ended_at`
	giftColumns       = `id, sender_id, recipient_id, livestream_id, amount, reader_amount, platform_amount, processed, created_at, processed_at`
	entryColumns      = `id, reference_id, user_id, account, entry_type, amount, balance_after, reason, created_at`
)

// Postgres is the lib/pq backed Store.
type Postgres struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// lockedUser is a user row held FOR UPDATE inside a transaction.
type lockedUser struct {
	models.UserLedger
	version int64
}

func (u *lockedUser) value(account models.Account) int64 {
	switch account {
	case models.AccountBalance:
		return u.Balance
	case models.AccountPendingEarnings:
		return u.PendingEarnings
	default:
		return u.Earnings
	}
}

func (u *lockedUser) set(account models.Account, v int64) {
	switch account {
	case models.AccountBalance:
		u.Balance = v
	case models.AccountPendingEarnings:
		u.PendingEarnings = v
	default:
		u.Earnings = v
	}
}

func (p *Postgres) GetUser(ctx context.Context, userID string) (*models.UserLedger, error) {
	var u models.UserLedger
	err := p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID,
	).Scan(&u.UserID, &u.Role, &u.Balance, &u.PendingEarnings, &u.Earnings, &u.ChatRate, &u.VoiceRate, &u.VideoRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) Credit(ctx context.Context, userID string, amount int64, reference, reason string) (*models.UserLedger, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := p.adjust(ctx, tx, u, models.AccountBalance, amount, reference, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &u.UserLedger, nil
}

func (p *Postgres) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.ReferenceID, &e.UserID, &e.Account, &e.EntryType,
			&e.Amount, &e.BalanceAfter, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (p *Postgres) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (room_id, reader_id, client_id, session_type, rate, state, minutes, accumulated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.ReaderID, s.ClientID, s.Mode, s.Rate, s.State, s.Minutes, s.AccumulatedAmount, s.CreatedAt)
	return err
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE room_id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	return s, err
}

func (p *Postgres) UpdateSessionState(ctx context.Context, sessionID string, state models.SessionState, connectedAt *time.Time) error {
	if state.IsTerminal() {
		return fmt.Errorf("terminal state %s is only written by settlement", state)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = $1, connected_at = COALESCE($2, connected_at)
		WHERE room_id = $3 AND state = ANY($4)`,
		state, connectedAt, sessionID, pq.Array(liveStateNames()))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		current, err := p.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: session %s is %s", models.ErrSessionNotActive, sessionID, current.State)
	}
	return nil
}

func (p *Postgres) ApplyTick(ctx context.Context, tick models.Tick) (*TickResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		state       models.SessionState
		minutes     int64
		accumulated int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT state, minutes, accumulated
		FROM sessions
		WHERE room_id = $1
		FOR UPDATE`, tick.SessionID).Scan(&state, &minutes, &accumulated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, tick.SessionID)
	}
	if err != nil {
		return nil, err
	}

	if tick.Sequence <= minutes {
		return nil, fmt.Errorf("%w: session %s minute %d", models.ErrTickAlreadyApplied, tick.SessionID, tick.Sequence)
	}
	if state != models.StateActive {
		return nil, fmt.Errorf("%w: session %s is %s", models.ErrSessionNotActive, tick.SessionID, state)
	}
	if tick.Sequence != minutes+1 {
		return nil, fmt.Errorf("%w: session %s expected minute %d, got %d",
			models.ErrTickOutOfOrder, tick.SessionID, minutes+1, tick.Sequence)
	}

	client, reader, err := lockPair(ctx, tx, tick.ClientID, tick.ReaderID)
	if err != nil {
		return nil, err
	}

	if client.Balance < tick.Amount {
		return nil, fmt.Errorf("%w: balance %d, minute costs %d", models.ErrInsufficientFunds, client.Balance, tick.Amount)
	}

	if err := p.adjust(ctx, tx, client, models.AccountBalance, -tick.Amount, tick.SessionID, "session_tick"); err != nil {
		return nil, err
	}
	if err := p.adjust(ctx, tx, reader, models.AccountPendingEarnings, tick.Amount, tick.SessionID, "session_tick"); err != nil {
		return nil, err
	}

	minutes = tick.Sequence
	accumulated += tick.Amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET minutes = $1, accumulated = $2, last_tick_at = $3
		WHERE room_id = $4`,
		minutes, accumulated, tick.At, tick.SessionID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &TickResult{
		ClientBalance:     client.Balance,
		Minutes:           minutes,
		AccumulatedAmount: accumulated,
	}, nil
}

func (p *Postgres) FinalizeSession(ctx context.Context, log *models.SettlementLog, endedAt time.Time) (*models.SettlementLog, bool, error) {
	if !log.Balanced() {
		return nil, false, fmt.Errorf("%w: shares do not add up to %d", models.ErrLedgerWrite, log.TotalAmount)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var (
		readerID    string
		accumulated int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT reader_id, accumulated
		FROM sessions
		WHERE room_id = $1
		FOR UPDATE`, log.SessionID).Scan(&readerID, &accumulated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: %s", models.ErrSessionNotFound, log.SessionID)
	}
	if err != nil {
		return nil, false, err
	}

	record := *log
	record.CreatedAt = endedAt

	result, err := tx.ExecContext(ctx, `
		INSERT INTO session_logs (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (room_id) DO NOTHING`,
		record.SessionID, record.ReaderID, record.ClientID, record.Mode, record.Duration,
		record.TotalAmount, record.ReaderShare, record.PlatformShare, record.Status, record.EndReason, record.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if inserted == 0 {
		tx.Rollback()
		existing, err := p.GetSettlement(ctx, log.SessionID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if accumulated != record.TotalAmount {
		return nil, false, fmt.Errorf("%w: settlement total %d does not match billed amount %d",
			models.ErrLedgerWrite, record.TotalAmount, accumulated)
	}

	if record.TotalAmount > 0 {
		reader, err := lockUser(ctx, tx, readerID)
		if err != nil {
			return nil, false, err
		}
		if err := p.adjust(ctx, tx, reader, models.AccountPendingEarnings, -record.TotalAmount, record.SessionID, "session_settlement"); err != nil {
			return nil, false, err
		}
		if record.ReaderShare > 0 {
			if err := p.adjust(ctx, tx, reader, models.AccountEarnings, record.ReaderShare, record.SessionID, "session_settlement"); err != nil {
				return nil, false, err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = $1, ended_at = $2 WHERE room_id = $3`,
		record.Status, endedAt, record.SessionID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

func (p *Postgres) GetSettlement(ctx context.Context, sessionID string) (*models.SettlementLog, error) {
	var l models.SettlementLog
	err := p.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM session_logs WHERE room_id = $1`, sessionID,
	).Scan(&l.SessionID, &l.ReaderID, &l.ClientID, &l.Mode, &l.Duration, &l.TotalAmount,
		&l.ReaderShare, &l.PlatformShare, &l.Status, &l.EndReason, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSettlementNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (p *Postgres) ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]*models.Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE state = ANY($1)
		  AND COALESCE(last_tick_at, connected_at, created_at) < $2
		ORDER BY created_at
		LIMIT $3`, pq.Array(liveStateNames()), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (p *Postgres) CreateLivestream(ctx context.Context, l *models.Livestream) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO livestreams (id, reader_id, status, started_at, scheduled_end_at)
		VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.ReaderID, l.Status, l.StartedAt, l.ScheduledEndAt)
	return err
}

func (p *Postgres) GetLivestream(ctx context.Context, livestreamID string) (*models.Livestream, error) {
	l, err := scanLivestream(p.db.QueryRowContext(ctx,
		`SELECT `+livestreamColumns+` FROM livestreams WHERE id = $1`, livestreamID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamNotFound, livestreamID)
	}
	return l, err
}

func (p *Postgres) EndLivestream(ctx context.Context, livestreamID string, at time.Time) (*models.Livestream, error) {
	l, err := scanLivestream(p.db.QueryRowContext(ctx, `
		UPDATE livestreams
		SET status = $1, ended_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+livestreamColumns,
		models.LivestreamEnded, at, livestreamID, models.LivestreamLive))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := p.GetLivestream(ctx, livestreamID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamEnded, livestreamID)
	}
	return l, err
}

func (p *Postgres) ListExpiredLivestreams(ctx context.Context, now time.Time, limit int) ([]*models.Livestream, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+livestreamColumns+`
		FROM livestreams
		WHERE status = $1 AND scheduled_end_at < $2
		ORDER BY scheduled_end_at
		LIMIT $3`, models.LivestreamLive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []*models.Livestream
	for rows.Next() {
		l, err := scanLivestream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, l)
	}
	return streams, rows.Err()
}

func (p *Postgres) CreateGift(ctx context.Context, g *models.Gift) (*models.UserLedger, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		readerID string
		status   models.LivestreamStatus
	)
	err = tx.QueryRowContext(ctx, `
		SELECT reader_id, status
		FROM livestreams
		WHERE id = $1
		FOR SHARE`, g.LivestreamID).Scan(&readerID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamNotFound, g.LivestreamID)
	}
	if err != nil {
		return nil, err
	}
	if status != models.LivestreamLive {
		return nil, fmt.Errorf("%w: %s", models.ErrLivestreamEnded, g.LivestreamID)
	}
	if readerID != g.RecipientID {
		return nil, fmt.Errorf("%w: %s does not host livestream %s", models.ErrInvalidParty, g.RecipientID, g.LivestreamID)
	}

	sender, err := lockUser(ctx, tx, g.SenderID)
	if err != nil {
		return nil, err
	}
	if sender.Balance < g.Amount {
		return nil, fmt.Errorf("%w: balance %d, gift costs %d", models.ErrInsufficientFunds, sender.Balance, g.Amount)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO gifts (id, sender_id, recipient_id, livestream_id, amount, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		g.ID, g.SenderID, g.RecipientID, g.LivestreamID, g.Amount, g.CreatedAt); err != nil {
		return nil, err
	}

	if err := p.adjust(ctx, tx, sender, models.AccountBalance, -g.Amount, g.ID, "gift_sent"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sender.UserLedger, nil
}

func (p *Postgres) ListUnprocessedGifts(ctx context.Context, limit int) ([]*models.Gift, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+giftColumns+`
		FROM gifts
		WHERE processed = FALSE
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gifts []*models.Gift
	for rows.Next() {
		g, err := scanGift(rows)
		if err != nil {
			return nil, err
		}
		gifts = append(gifts, g)
	}
	return gifts, rows.Err()
}

func (p *Postgres) ProcessGift(ctx context.Context, giftID string, readerShare, platformShare int64, at time.Time) (*models.Gift, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	g, err := scanGift(tx.QueryRowContext(ctx, `
		UPDATE gifts
		SET processed = TRUE, reader_amount = $1, platform_amount = $2, processed_at = $3
		WHERE id = $4 AND processed = FALSE
		RETURNING `+giftColumns,
		readerShare, platformShare, at, giftID))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM gifts WHERE id = $1)`, giftID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", models.ErrGiftNotFound, giftID)
		}
		return nil, fmt.Errorf("%w: %s", models.ErrGiftAlreadyProcessed, giftID)
	}
	if err != nil {
		return nil, err
	}
	if readerShare+platformShare != g.Amount {
		return nil, fmt.Errorf("%w: gift %s shares do not add up to %d", models.ErrLedgerWrite, giftID, g.Amount)
	}

	if readerShare > 0 {
		recipient, err := lockUser(ctx, tx, g.RecipientID)
		if err != nil {
			return nil, err
		}
		if err := p.adjust(ctx, tx, recipient, models.AccountEarnings, readerShare, g.ID, "gift_processed"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return g, nil
}

// lockUser selects a user row FOR UPDATE.
func lockUser(ctx context.Context, tx *sql.Tx, userID string) (*lockedUser, error) {
	var u lockedUser
	err := tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`, version
		FROM users
		WHERE id = $1
		FOR UPDATE`, userID).Scan(&u.UserID, &u.Role, &u.Balance, &u.PendingEarnings, &u.Earnings,
		&u.ChatRate, &u.VoiceRate, &u.VideoRate, &u.version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// lockPair locks two users in a consistent order to prevent deadlocks and
// returns them in argument order.
func lockPair(ctx context.Context, tx *sql.Tx, firstID, secondID string) (*lockedUser, *lockedUser, error) {
	lo, hi := firstID, secondID
	if lo > hi {
		lo, hi = hi, lo
	}

	loUser, err := lockUser(ctx, tx, lo)
	if err != nil {
		return nil, nil, err
	}
	hiUser, err := lockUser(ctx, tx, hi)
	if err != nil {
		return nil, nil, err
	}

	if lo != firstID {
		return hiUser, loUser, nil
	}
	return loUser, hiUser, nil
}

// adjust moves one money column of a locked user by delta and appends the
// matching ledger entry.
func (p *Postgres) adjust(ctx context.Context, tx *sql.Tx, u *lockedUser, account models.Account, delta int64, reference, reason string) error {
	column, err := accountColumn(account)
	if err != nil {
		return err
	}

	next := u.value(account) + delta
	if next < 0 {
		if account == models.AccountBalance {
			return models.ErrInsufficientFunds
		}
		return fmt.Errorf("%w: %s of user %s would become negative", models.ErrLedgerWrite, account, u.UserID)
	}

	now := p.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET `+column+` = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		next, now, u.UserID, u.version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for user %s", u.UserID)
	}
	u.version++
	u.set(account, next)

	entryType := models.EntryCredit
	if delta < 0 {
		entryType = models.EntryDebit
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.newID(), reference, u.UserID, account, entryType, delta, next, reason, now)
	return err
}

func accountColumn(account models.Account) (string, error) {
	switch account {
	case models.AccountBalance, models.AccountPendingEarnings, models.AccountEarnings:
		return string(account), nil
	}
	return "", fmt.Errorf("unknown ledger account %q", account)
}

func liveStateNames() []string {
	names := make([]string, len(liveStates))
	for i, s := range liveStates {
		names[i] = string(s)
	}
	return names
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s                                models.Session
		connectedAt, lastTickAt, endedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ReaderID, &s.ClientID, &s.Mode, &s.Rate, &s.State, &s.Minutes,
		&s.AccumulatedAmount, &s.CreatedAt, &connectedAt, &lastTickAt, &endedAt); err != nil {
		return nil, err
	}
	s.ConnectedAt = timePtr(connectedAt)
	s.LastTickAt = timePtr(lastTickAt)
	s.EndedAt = timePtr(endedAt)
	return &s, nil
}

func scanLivestream(row rowScanner) (*models.Livestream, error) {
	var (
		l       models.Livestream
		endedAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.ReaderID, &l.Status, &l.StartedAt, &l.ScheduledEndAt, &endedAt); err != nil {
		return nil, err
	}
	l.EndedAt = timePtr(endedAt)
	return &l, nil
}

func scanGift(row rowScanner) (*models.Gift, error) {
	var (
		g           models.Gift
		processedAt sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.SenderID, &g.RecipientID, &g.LivestreamID, &g.Amount,
		&g.ReaderShare, &g.PlatformShare, &g.Processed, &g.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	g.ProcessedAt = timePtr(processedAt)
	return &g, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
