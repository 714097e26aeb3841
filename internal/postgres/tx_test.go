package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sweets`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `UPDATE sweets SET quantity = 1`)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = WithTx(context.Background(), mock, func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassification(t *testing.T) {
	serial := fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40001"})
	deadlock := &pgconn.PgError{Code: "40P01"}
	unique := &pgconn.PgError{Code: "23505"}
	overflow := &pgconn.PgError{Code: "22003"}

	assert.True(t, IsRetryable(serial))
	assert.True(t, IsRetryable(deadlock))
	assert.False(t, IsRetryable(unique))
	assert.False(t, IsRetryable(errors.New("plain")))

	assert.True(t, IsUniqueViolation(unique))
	assert.True(t, IsOutOfRange(overflow))
	assert.True(t, IsTooLong(&pgconn.PgError{Code: "22001"}))
	assert.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	assert.True(t, IsNoRows(fmt.Errorf("x: %w", pgx.ErrNoRows)))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("noop", nil))

	conflict := Classify("reserve", &pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, conflict, apperr.ErrConcurrencyConflict)

	storage := Classify("reserve", errors.New("conn refused"))
	assert.ErrorIs(t, storage, apperr.ErrStorageFailure)

	for _, code := range []string{"22001", "22003"} {
		err := Classify("insert order", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, code)
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err), code)
	}

	typed := apperr.SweetNotFound(9)
	assert.Same(t, typed, Classify("reserve", typed))
}
