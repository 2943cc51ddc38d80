package actions

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/servicing/client"
	"github.com/ledgerly/servicing-app/servicing/constants"
	"github.com/ledgerly/servicing-app/servicing/models"
)

// StatusChange moves accounts to a target status through the account API
// and then mirrors the change locally.
type StatusChange struct {
	repo        repository.Repository
	concurrency int
	target      models.AccountStatus
	// refused maps current statuses to the row error they produce.
	refused map[models.AccountStatus]string
	call    func(ctx context.Context, batch Batch, acct *models.Account) error
}

func NewAccountClosure(repo repository.Repository, api client.AccountAPI, concurrency int) *StatusChange {
	return &StatusChange{
		repo:        repo,
		concurrency: concurrency,
		target:      models.AccountStatusClosed,
		refused: map[models.AccountStatus]string{
			models.AccountStatusClosed: constants.AccountAlreadyClosed,
		},
		call: func(ctx context.Context, batch Batch, acct *models.Account) error {
			if err := api.DisableCards(ctx, acct.ID); err != nil {
				return errors.Wrap(err, "failed to disable cards")
			}
			return errors.Wrap(api.CloseAccount(ctx, acct.ID), "failed to close account")
		},
	}
}

func NewCstSuspend(repo repository.Repository, api client.AccountAPI, concurrency int) *StatusChange {
	return &StatusChange{
		repo:        repo,
		concurrency: concurrency,
		target:      models.AccountStatusSuspended,
		refused: map[models.AccountStatus]string{
			models.AccountStatusSuspended: constants.AccountAlreadySuspended,
			models.AccountStatusCancelled: constants.AccountAlreadyCancelled,
			models.AccountStatusClosed:    constants.AccountAlreadyClosed,
		},
		call: func(ctx context.Context, batch Batch, acct *models.Account) error {
			return errors.Wrap(api.SuspendAccount(ctx, acct.ID, batch.Job.ExtraConfig.TargetSubtype),
				"failed to suspend account")
		},
	}
}

func NewCstCancelWithoutRefund(repo repository.Repository, api client.AccountAPI, concurrency int) *StatusChange {
	return &StatusChange{
		repo:        repo,
		concurrency: concurrency,
		target:      models.AccountStatusCancelled,
		refused: map[models.AccountStatus]string{
			models.AccountStatusCancelled: constants.AccountAlreadyCancelled,
			models.AccountStatusClosed:    constants.AccountAlreadyClosed,
		},
		call: func(ctx context.Context, batch Batch, acct *models.Account) error {
			return errors.Wrap(api.CancelAccount(ctx, acct.ID, batch.Job.ExtraConfig.TargetSubtype, false),
				"failed to cancel account")
		},
	}
}

func (h *StatusChange) Handle(ctx context.Context, batch Batch) ([]models.JobOutputRow, error) {
	return forEachAccount(ctx, h.repo, batch, h.concurrency, h.apply)
}

func (h *StatusChange) apply(ctx context.Context, batch Batch, acct *models.Account) error {
	if code, ok := h.refused[acct.Status]; ok {
		return rowError(code)
	}
	if err := h.call(ctx, batch, acct); err != nil {
		return err
	}
	if err := h.repo.UpdateAccountStatus(ctx, acct.ID, h.target); err != nil {
		return errors.Wrapf(err, "failed to mark account %s", h.target)
	}
	return recordAction(ctx, h.repo, batch, acct.ID)
}
