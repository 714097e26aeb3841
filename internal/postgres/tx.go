package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DB interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// The deferred rollback is a no-op after a successful commit.
func WithTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeNumericOutOfRange    = "22003"
	codeStringTooLong        = "22001"
	codeCheckViolation       = "23514"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsRetryable reports serialization failures and deadlocks, both of which
// are resolved by re-running the whole transaction.
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

func IsUniqueViolation(err error) bool { return pgCode(err) == codeUniqueViolation }

func IsOutOfRange(err error) bool { return pgCode(err) == codeNumericOutOfRange }

func IsTooLong(err error) bool { return pgCode(err) == codeStringTooLong }

func IsCheckViolation(err error) bool { return pgCode(err) == codeCheckViolation }

func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// Classify maps a driver error onto the shop error taxonomy. Errors that are
// already classified pass through untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if IsRetryable(err) {
		return apperr.Conflict(err)
	}
	// the value was rejected by a column type, not by an unhealthy store
	if IsOutOfRange(err) || IsTooLong(err) {
		return &apperr.Error{Kind: apperr.KindInvalidInput, Msg: op + ": value does not fit its column", Err: err}
	}
	return apperr.Storage(op, err)
}
