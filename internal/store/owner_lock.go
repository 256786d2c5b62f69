package store

import (
	"context"
	"errors"
	"fmt"
)

// ownerLockKey identifies the advisory lock held by the process that owns
// live sessions.
const ownerLockKey int64 = 0x524c4f574e

var ErrOwnerLockHeld = errors.New("another process owns live sessions")

// AcquireOwnerLock takes a session-level advisory lock on a dedicated
// connection. The returned func releases it; until then no other serve or
// sweep process can start against the same database.
func (p *Postgres) AcquireOwnerLock(ctx context.Context) (func() error, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("owner lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, ownerLockKey).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("owner lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, ErrOwnerLockHeld
	}

	return func() error {
		_, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, ownerLockKey)
		return errors.Join(err, conn.Close())
	}, nil
}
