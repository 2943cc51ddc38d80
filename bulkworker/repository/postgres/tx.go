package postgres

import (
	"context"
	"database/sql"
	goerrors "errors"

	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/log"
	"github.com/pkg/errors"
)

// Ensure TxRunner satisfies the interface
var _ repository.UnitOfWork = &TxRunner{}

// TxRunner runs units of work inside a database transaction.
type TxRunner struct {
	db *sql.DB
}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (t *TxRunner) Do(ctx context.Context, fn func(ctx context.Context, repo repository.Repository) error) repository.TxResult {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.TxResult{Err: errors.Wrap(err, "failed to begin transaction")}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, NewRepositoryTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !goerrors.Is(rbErr, sql.ErrTxDone) {
			log.GetCtxLogger(ctx).Errorf("failed to roll back transaction: %s", rbErr)
		}
		return repository.TxResult{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return repository.TxResult{Err: errors.Wrap(err, "failed to commit transaction")}
	}
	return repository.TxResult{Committed: true}
}
