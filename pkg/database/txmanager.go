// Package database adapts pgx's pool/transaction primitives behind a
// small manager so call sites choose an isolation level by name instead
// of writing "SET TRANSACTION ISOLATION LEVEL ..." inline.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionManager begins transactions against a pool.
type TransactionManager interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	BeginTxWithIsolation(ctx context.Context, level pgx.TxIsoLevel) (pgx.Tx, error)
}

// PostgresTransactionManager implements TransactionManager using pgx.
// Its default isolation level is Repeatable Read, matching the shared
// pool default; callers that need Read Committed (the outbox
// publisher's claim and mark-applied transactions) ask for it
// explicitly via BeginTxWithIsolation.
type PostgresTransactionManager struct {
	pool         *pgxpool.Pool
	lockTimeout  time.Duration
	defaultLevel pgx.TxIsoLevel
}

// NewPostgresTransactionManager creates a transaction manager.
// lockTimeout of 0 disables the per-transaction lock_timeout.
func NewPostgresTransactionManager(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresTransactionManager {
	return &PostgresTransactionManager{
		pool:         pool,
		lockTimeout:  lockTimeout,
		defaultLevel: pgx.RepeatableRead,
	}
}

// BeginTx starts a transaction at the manager's default isolation level.
func (m *PostgresTransactionManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return m.BeginTxWithIsolation(ctx, m.defaultLevel)
}

// BeginTxWithIsolation starts a transaction at an explicit isolation
// level, applying the configured lock timeout once the transaction is
// open.
func (m *PostgresTransactionManager) BeginTxWithIsolation(ctx context.Context, level pgx.TxIsoLevel) (pgx.Tx, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: level})
	if err != nil {
		return nil, err
	}

	if m.lockTimeout > 0 {
		timeoutMs := int(m.lockTimeout.Milliseconds())
		if _, execErr := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeoutMs)); execErr != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to set lock timeout: %w", execErr)
		}
	}

	return tx, nil
}
