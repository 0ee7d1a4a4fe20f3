package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/store-backoffice/internal/domain/order"
	"github.com/xenking/store-backoffice/internal/domain/txn"
)

// PostgreSQL error codes mapped to txn failures.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

var _ order.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs order operations in a single READ COMMITTED transaction.
// Row locks taken inside are bounded by the configured lock timeout.
type UnitOfWork struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewUnitOfWork returns a UnitOfWork over pool. A zero lockTimeout keeps the
// server default.
func NewUnitOfWork(pool *pgxpool.Pool, lockTimeout time.Duration) *UnitOfWork {
	return &UnitOfWork{pool: pool, lockTimeout: lockTimeout}
}

// Do begins a transaction, runs fn and commits when fn returns nil.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, u.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if u.lockTimeout > 0 {
			if _, err := tx.Exec(ctx, setLockTimeoutSQL, formatTimeout(u.lockTimeout)); err != nil {
				return errors.Wrap(err, "set lock timeout")
			}
		}
		return fn(ctx, &Tx{q: tx})
	})
	return mapError(err)
}

const setLockTimeoutSQL = `SELECT set_config('lock_timeout', $1, true)`

func formatTimeout(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

// mapError converts lock and constraint failures into txn errors so the
// domain can classify them without knowing about PostgreSQL.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return errors.Wrapf(txn.ErrContention, "%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	case codeUniqueViolation:
		return &txn.DuplicateError{Constraint: pgErr.ConstraintName, Err: err}
	case codeForeignKeyViolation:
		return &txn.ForeignKeyError{Table: pgErr.TableName, Constraint: pgErr.ConstraintName, Err: err}
	default:
		return err
	}
}

var _ order.Tx = (*Tx)(nil)

// Tx implements every store used by order operations on one transaction.
type Tx struct {
	q querier
}
