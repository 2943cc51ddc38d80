package actions

import (
	"context"

	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/servicing/models"
)

// AdminNote attaches the action record's note to every account.
type AdminNote struct {
	repo        repository.Repository
	concurrency int
}

func NewAdminNote(repo repository.Repository, concurrency int) *AdminNote {
	return &AdminNote{repo: repo, concurrency: concurrency}
}

func (h *AdminNote) Handle(ctx context.Context, batch Batch) ([]models.JobOutputRow, error) {
	return forEachAccount(ctx, h.repo, batch, h.concurrency, h.note)
}

func (h *AdminNote) note(ctx context.Context, batch Batch, acct *models.Account) error {
	return h.repo.CreateAdminNote(ctx, models.AdminNote{
		AccountID:      acct.ID,
		JobID:          batch.Job.ID,
		ActionRecordID: batch.Action.ID,
		Note:           batch.Action.Note,
		ActorID:        batch.Action.ActorID,
	})
}
