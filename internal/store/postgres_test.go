package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/backend/internal/models"
)

var lockedUserColumns = []string{"id", "role", "balance", "pending_earnings", "earnings", "chat_rate", "voice_rate", "video_rate", "version"}

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := NewPostgres(db)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	p.newID = func() string { return "entry-id" }
	return p, mock
}

func expectLockUser(mock sqlmock.Sqlmock, id string, role models.UserRole, balance, pending, earnings, version int64) {
	mock.ExpectQuery("FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(lockedUserColumns).
			AddRow(id, string(role), balance, pending, earnings, 0, 0, 0, version))
}

func expectAdjust(mock sqlmock.Sqlmock, column, userID string, next, version, delta int64, entryType models.EntryType) {
	mock.ExpectExec("UPDATE users SET "+column+" = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
		WithArgs(next, sqlmock.AnyArg(), userID, version).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("entry-id", sqlmock.AnyArg(), userID, column, string(entryType), delta, next, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestPostgres_ApplyTick(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	tick := models.Tick{SessionID: "room-1", ClientID: "client-1", ReaderID: "reader-1", Sequence: 1, Amount: 600, At: at}

	t.Run("successful tick", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT state, minutes, accumulated FROM sessions WHERE room_id = \\$1 FOR UPDATE").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"state", "minutes", "accumulated"}).AddRow("active", 0, 0))
		// client-1 sorts before reader-1
		expectLockUser(mock, "client-1", models.RoleClient, 1000, 0, 0, 3)
		expectLockUser(mock, "reader-1", models.RoleReader, 0, 0, 500, 7)
		expectAdjust(mock, "balance", "client-1", 400, 3, -600, models.EntryDebit)
		expectAdjust(mock, "pending_earnings", "reader-1", 600, 7, 600, models.EntryCredit)
		mock.ExpectExec("UPDATE sessions SET minutes = \\$1, accumulated = \\$2, last_tick_at = \\$3 WHERE room_id = \\$4").
			WithArgs(int64(1), int64(600), at, "room-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := p.ApplyTick(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, int64(400), result.ClientBalance)
		assert.Equal(t, int64(1), result.Minutes)
		assert.Equal(t, int64(600), result.AccumulatedAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds mutates nothing", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT state, minutes, accumulated FROM sessions").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"state", "minutes", "accumulated"}).AddRow("active", 0, 0))
		expectLockUser(mock, "client-1", models.RoleClient, 400, 0, 0, 1)
		expectLockUser(mock, "reader-1", models.RoleReader, 0, 0, 0, 1)
		mock.ExpectRollback()

		_, err := p.ApplyTick(ctx, tick)
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed minute", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT state, minutes, accumulated FROM sessions").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"state", "minutes", "accumulated"}).AddRow("active", 1, 600))
		mock.ExpectRollback()

		_, err := p.ApplyTick(ctx, tick)
		assert.ErrorIs(t, err, models.ErrTickAlreadyApplied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session no longer active", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT state, minutes, accumulated FROM sessions").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"state", "minutes", "accumulated"}).AddRow("completed", 0, 0))
		mock.ExpectRollback()

		_, err := p.ApplyTick(ctx, tick)
		assert.ErrorIs(t, err, models.ErrSessionNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection failure", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

		_, err := p.ApplyTick(ctx, tick)
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestPostgres_FinalizeSession(t *testing.T) {
	ctx := context.Background()
	endedAt := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	log := &models.SettlementLog{
		SessionID:     "room-1",
		ReaderID:      "reader-1",
		ClientID:      "client-1",
		Mode:          models.ModeVideo,
		Duration:      15,
		TotalAmount:   9000,
		ReaderShare:   6300,
		PlatformShare: 2700,
		Status:        models.StateCompleted,
		EndReason:     models.EndCompleted,
	}

	t.Run("first settlement applies earnings", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT reader_id, accumulated FROM sessions WHERE room_id = \\$1 FOR UPDATE").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"reader_id", "accumulated"}).AddRow("reader-1", 9000))
		mock.ExpectExec("INSERT INTO session_logs .* ON CONFLICT \\(room_id\\) DO NOTHING").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectLockUser(mock, "reader-1", models.RoleReader, 0, 9000, 100, 4)
		expectAdjust(mock, "pending_earnings", "reader-1", 0, 4, -9000, models.EntryDebit)
		expectAdjust(mock, "earnings", "reader-1", 6400, 5, 6300, models.EntryCredit)
		mock.ExpectExec("UPDATE sessions SET state = \\$1, ended_at = \\$2 WHERE room_id = \\$3").
			WithArgs("completed", endedAt, "room-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		stored, created, err := p.FinalizeSession(ctx, log, endedAt)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, endedAt, stored.CreatedAt)
		assert.Equal(t, int64(6300), stored.ReaderShare)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate returns stored log", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT reader_id, accumulated FROM sessions").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"reader_id", "accumulated"}).AddRow("reader-1", 9000))
		mock.ExpectExec("INSERT INTO session_logs").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
		mock.ExpectQuery("FROM session_logs WHERE room_id = \\$1").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"room_id", "reader_id", "client_id", "session_type", "duration",
				"total_amount", "reader_earned", "platform_earned", "status", "end_reason", "created_at"}).
				AddRow("room-1", "reader-1", "client-1", "video", 15, 9000, 6300, 2700, "completed", "completed", endedAt))

		stored, created, err := p.FinalizeSession(ctx, log, endedAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, endedAt, stored.CreatedAt)
		assert.Equal(t, models.EndCompleted, stored.EndReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("total mismatch is a ledger error", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT reader_id, accumulated FROM sessions").
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"reader_id", "accumulated"}).AddRow("reader-1", 8400))
		mock.ExpectExec("INSERT INTO session_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		_, _, err := p.FinalizeSession(ctx, log, endedAt)
		assert.ErrorIs(t, err, models.ErrLedgerWrite)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unbalanced shares rejected before touching the database", func(t *testing.T) {
		p, mock := newMockPostgres(t)
		bad := *log
		bad.PlatformShare = 2600

		_, _, err := p.FinalizeSession(ctx, &bad, endedAt)
		assert.ErrorIs(t, err, models.ErrLedgerWrite)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_ProcessGift(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	giftRows := []string{"id", "sender_id", "recipient_id", "livestream_id", "amount", "reader_amount",
		"platform_amount", "processed", "created_at", "processed_at"}

	t.Run("credits recipient once", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE gifts SET processed = TRUE, .* WHERE id = \\$4 AND processed = FALSE RETURNING").
			WithArgs(int64(700), int64(300), at, "gift-1").
			WillReturnRows(sqlmock.NewRows(giftRows).
				AddRow("gift-1", "client-1", "reader-1", "live-1", 1000, 700, 300, true, at.Add(-time.Minute), at))
		expectLockUser(mock, "reader-1", models.RoleReader, 0, 0, 0, 2)
		expectAdjust(mock, "earnings", "reader-1", 700, 2, 700, models.EntryCredit)
		mock.ExpectCommit()

		g, err := p.ProcessGift(ctx, "gift-1", 700, 300, at)
		require.NoError(t, err)
		assert.True(t, g.Processed)
		require.NotNil(t, g.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already processed is rejected", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE gifts SET processed = TRUE").
			WillReturnRows(sqlmock.NewRows(giftRows))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("gift-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := p.ProcessGift(ctx, "gift-1", 700, 300, at)
		assert.ErrorIs(t, err, models.ErrGiftAlreadyProcessed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown gift", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE gifts SET processed = TRUE").
			WillReturnRows(sqlmock.NewRows(giftRows))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("gift-9").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := p.ProcessGift(ctx, "gift-9", 700, 300, at)
		assert.ErrorIs(t, err, models.ErrGiftNotFound)
	})
}

func TestPostgres_CreateGift(t *testing.T) {
	ctx := context.Background()
	gift := &models.Gift{ID: "gift-1", SenderID: "client-1", RecipientID: "reader-1", LivestreamID: "live-1",
		Amount: 1000, CreatedAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)}

	t.Run("debits sender", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT reader_id, status FROM livestreams WHERE id = \\$1 FOR SHARE").
			WithArgs("live-1").
			WillReturnRows(sqlmock.NewRows([]string{"reader_id", "status"}).AddRow("reader-1", "live"))
		expectLockUser(mock, "client-1", models.RoleClient, 5000, 0, 0, 1)
		mock.ExpectExec("INSERT INTO gifts").
			WithArgs("gift-1", "client-1", "reader-1", "live-1", int64(1000), gift.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAdjust(mock, "balance", "client-1", 4000, 1, -1000, models.EntryDebit)
		mock.ExpectCommit()

		sender, err := p.CreateGift(ctx, gift)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), sender.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ended livestream", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM livestreams WHERE id = \\$1 FOR SHARE").
			WithArgs("live-1").
			WillReturnRows(sqlmock.NewRows([]string{"reader_id", "status"}).AddRow("reader-1", "ended"))
		mock.ExpectRollback()

		_, err := p.CreateGift(ctx, gift)
		assert.ErrorIs(t, err, models.ErrLivestreamEnded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_UpdateSessionState(t *testing.T) {
	ctx := context.Background()
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("marks active", func(t *testing.T) {
		p, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE sessions SET state = \\$1, connected_at = COALESCE\\(\\$2, connected_at\\) WHERE room_id = \\$3 AND state = ANY\\(\\$4\\)").
			WithArgs("active", connectedAt, "room-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, p.UpdateSessionState(ctx, "room-1", models.StateActive, &connectedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses terminal states", func(t *testing.T) {
		p, _ := newMockPostgres(t)
		assert.Error(t, p.UpdateSessionState(ctx, "room-1", models.StateCompleted, nil))
	})
}

func TestPostgres_GetUser_NotFound(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectQuery("FROM users WHERE id = \\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := p.GetUser(context.Background(), "ghost")
	assert.True(t, errors.Is(err, models.ErrUserNotFound))
}

func TestPostgres_Migrate(t *testing.T) {
	p, mock := newMockPostgres(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
