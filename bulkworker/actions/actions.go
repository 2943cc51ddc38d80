// Package actions applies one bulk action to a chunk of accounts and reports
// the outcome per account.
package actions

import (
	"context"

	"github.com/ledgerly/servicing-app/bulkworker/gate"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/client"
	"github.com/ledgerly/servicing-app/servicing/models"
)

// Batch is one chunk of account ids for a job.
type Batch struct {
	Job    *models.BulkJob
	Action *models.ActionRecord
	IDs    []int64
}

type Handler interface {
	Handle(ctx context.Context, batch Batch) ([]models.JobOutputRow, error)
}

// StagedHandler is implemented by handlers whose writes must span the whole
// job. Stage runs once per chunk and Commit once with every staged chunk.
type StagedHandler interface {
	Handler
	Stage(ctx context.Context, batch Batch) (Staged, error)
	Commit(ctx context.Context, job *models.BulkJob, action *models.ActionRecord, staged []Staged) ([]models.JobOutputRow, error)
}

type Config struct {
	FraudGate gate.Config

	AdminNoteConcurrency      int    `conf:"BULK_CONCURRENCY_ADMIN_NOTE" conf_default:"10"`
	AccountClosureConcurrency int    `conf:"BULK_CONCURRENCY_ACCOUNT_CLOSURE" conf_default:"2"`
	CstSuspendConcurrency     int    `conf:"BULK_CONCURRENCY_CST_SUSPEND" conf_default:"2"`
	CstCancelConcurrency      int    `conf:"BULK_CONCURRENCY_CST_CANCEL" conf_default:"2"`
	PhoneRegion               string `conf:"PHONE_DEFAULT_REGION" conf_default:"US"`
}

type Dispatcher struct {
	handlers map[models.ActionCode]Handler
}

func NewDispatcher(repo repository.Repository, uow repository.UnitOfWork, api client.AccountAPI, cfg Config) *Dispatcher {
	return &Dispatcher{handlers: map[models.ActionCode]Handler{
		models.ActionFraudBlock:             NewFraudBlock(repo, uow, gate.New(cfg.FraudGate), cfg.PhoneRegion),
		models.ActionAdminNote:              NewAdminNote(repo, cfg.AdminNoteConcurrency),
		models.ActionAccountClosure:         NewAccountClosure(repo, api, cfg.AccountClosureConcurrency),
		models.ActionCstSuspend:             NewCstSuspend(repo, api, cfg.CstSuspendConcurrency),
		models.ActionCstCancelWithoutRefund: NewCstCancelWithoutRefund(repo, api, cfg.CstCancelConcurrency),
	}}
}

func (d *Dispatcher) Handler(code models.ActionCode) (Handler, bool) {
	h, ok := d.handlers[code]
	return h, ok
}

// Handle runs the batch through the handler registered for the job's action.
// Unknown actions produce an empty report.
func (d *Dispatcher) Handle(ctx context.Context, batch Batch) ([]models.JobOutputRow, error) {
	h, ok := d.Handler(batch.Job.ActionCode)
	if !ok {
		log.GetCtxLogger(ctx).Warnf("No handler registered for action %s, skipping %d accounts",
			batch.Job.ActionCode, len(batch.IDs))
		return nil, nil
	}
	return h.Handle(ctx, batch)
}
