package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRunnerCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO bulk_job_rules")).WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := NewTxRunner(db).Do(context.Background(), func(ctx context.Context, r repository.Repository) error {
		return r.LinkRuleToJob(ctx, 2, 1)
	})
	assert.True(t, result.Committed)
	assert.NoError(t, result.Err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunnerRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	result := NewTxRunner(db).Do(context.Background(), func(ctx context.Context, r repository.Repository) error {
		return boom
	})
	assert.False(t, result.Committed)
	assert.ErrorIs(t, result.Err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunnerBeginFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("no connections"))

	called := false
	result := NewTxRunner(db).Do(context.Background(), func(ctx context.Context, r repository.Repository) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.False(t, result.Committed)
	assert.ErrorContains(t, result.Err, "failed to begin transaction")
}

func TestTxRunnerCommitFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	result := NewTxRunner(db).Do(context.Background(), func(ctx context.Context, r repository.Repository) error {
		return nil
	})
	assert.False(t, result.Committed)
	assert.ErrorContains(t, result.Err, "failed to commit transaction")
}

func TestTxRunnerPanicRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		NewTxRunner(db).Do(context.Background(), func(ctx context.Context, r repository.Repository) error {
			panic("unexpected")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRepositorySerializesStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	for i := int64(1); i <= 5; i++ {
		mock.ExpectExec(q("INSERT INTO bulk_job_rules")).WithArgs(int64(9), i).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	result := NewTxRunner(db).Do(context.Background(), func(ctx context.Context, r repository.Repository) error {
		errs := make(chan error, 5)
		for i := int64(1); i <= 5; i++ {
			go func(id int64) { errs <- r.LinkRuleToJob(ctx, id, 9) }(i)
		}
		for i := 0; i < 5; i++ {
			if err := <-errs; err != nil {
				return err
			}
		}
		return nil
	})
	assert.True(t, result.Committed)
	assert.NoError(t, result.Err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
