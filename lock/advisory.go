package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AdvisoryLocker takes a Postgres transaction-level advisory lock. The lock is
// released by Postgres on commit or rollback.
type AdvisoryLocker struct{}

func NewAdvisoryLocker() *AdvisoryLocker {
	return &AdvisoryLocker{}
}

func (l *AdvisoryLocker) Acquire(ctx context.Context, tx pgx.Tx, key Key) (func(), error) {
	if tx == nil {
		return nil, errors.New("lock: advisory lock requires a transaction")
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key.Hash()); err != nil {
		return nil, fmt.Errorf("lock: advisory %s: %w", key, err)
	}
	return func() {}, nil
}
