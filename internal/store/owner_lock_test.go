package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_AcquireOwnerLock(t *testing.T) {
	ctx := context.Background()

	t.Run("acquired and released", func(t *testing.T) {
		p, mock := newMockPostgres(t)
		mock.ExpectQuery("SELECT pg_try_advisory_lock\\(\\$1\\)").
			WithArgs(ownerLockKey).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
		mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
			WithArgs(ownerLockKey).
			WillReturnResult(sqlmock.NewResult(0, 0))

		release, err := p.AcquireOwnerLock(ctx)
		require.NoError(t, err)
		require.NoError(t, release())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held by another process", func(t *testing.T) {
		p, mock := newMockPostgres(t)
		mock.ExpectQuery("SELECT pg_try_advisory_lock\\(\\$1\\)").
			WithArgs(ownerLockKey).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

		release, err := p.AcquireOwnerLock(ctx)
		assert.ErrorIs(t, err, ErrOwnerLockHeld)
		assert.Nil(t, release)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
