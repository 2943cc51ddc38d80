package actions

import (
	"context"
	goerrors "errors"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerly/servicing-app/bulkworker/report"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/client"
	"github.com/ledgerly/servicing-app/servicing/constants"
	"github.com/ledgerly/servicing-app/servicing/models"
)

// rowError is an expected per account failure carrying its report code.
type rowError string

func (e rowError) Error() string { return string(e) }

type accountOp func(ctx context.Context, batch Batch, acct *models.Account) error

// forEachAccount runs op for every account of the batch with at most
// concurrency calls in flight. Failures of op become row errors; only a
// failure to load the accounts fails the batch.
func forEachAccount(ctx context.Context, repo repository.Repository, batch Batch, concurrency int,
	op accountOp) ([]models.JobOutputRow, error) {

	accounts, err := repo.FindAccountsByIDs(ctx, batch.IDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load accounts")
	}

	if concurrency < 1 {
		concurrency = 1
	}
	rows := make([]models.JobOutputRow, len(batch.IDs))

	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for i, id := range batch.IDs {
		i, id := i, id
		acct, ok := accounts[id]
		if !ok {
			rows[i] = models.JobOutputRow{AccountID: id, Error: constants.UserDoesNotExist}
			continue
		}
		eg.Go(func() error {
			if code := runOp(ctx, batch, acct, op); code != "" {
				rows[i] = models.JobOutputRow{AccountID: id, Error: code}
			} else {
				rows[i] = models.JobOutputRow{AccountID: id, RequesterIDs: []int64{id}}
			}
			return nil
		})
	}
	_ = eg.Wait()

	return report.Merge(rows), nil
}

func runOp(ctx context.Context, batch Batch, acct *models.Account, op accountOp) (code string) {
	ctx, logger := log.SetCtxLogger(ctx, "account_id", acct.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered from panic: %v", r)
			code = constants.InternalError
		}
	}()

	err := op(ctx, batch, acct)
	if err == nil {
		return ""
	}
	code = errorCode(err)
	logger.WithField("error_code", code).Warnf("Account action failed: %s", err)
	return code
}

func errorCode(err error) string {
	var re rowError
	var apiErr *client.APIError
	switch {
	case goerrors.As(err, &re):
		return string(re)
	case goerrors.Is(err, client.ErrTimeout), goerrors.Is(err, context.DeadlineExceeded):
		return constants.AccountAPITimeout
	case goerrors.As(err, &apiErr):
		return constants.AccountAPIRejected
	case goerrors.Is(err, repository.ErrAccountNotFound):
		return constants.UserDoesNotExist
	default:
		return constants.InternalError
	}
}

func recordAction(ctx context.Context, repo repository.Repository, batch Batch, accountID int64) error {
	err := repo.RecordAccountAction(ctx, models.AccountAction{
		AccountID:      accountID,
		JobID:          batch.Job.ID,
		ActionCode:     batch.Job.ActionCode,
		ActionRecordID: batch.Action.ID,
	})
	return errors.Wrap(err, "failed to record account action")
}
