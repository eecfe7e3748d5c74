package retrain

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock wraps a Postgres session-level advisory lock so only one
// retrain controller instance runs the pipeline at a time across
// replicas, matching auto_retrain_scheduler.py's SELECT
// pg_try_advisory_lock(...) guard.
type AdvisoryLock struct {
	Pool *pgxpool.Pool
	Key  int64
	conn *pgxpool.Conn
}

func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{Pool: pool, Key: key}
}

// TryAcquire attempts a non-blocking lock, returning false if another
// instance already holds it. The same connection must be used to
// release the lock, so it is held open for the duration.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.Pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("retrain: acquire pool conn: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.Key).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("retrain: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks and returns the underlying connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	_, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.Key)
	if err != nil {
		return fmt.Errorf("retrain: advisory unlock: %w", err)
	}
	return nil
}
