package actions

import (
	"context"
	goerrors "errors"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/bulkworker/gate"
	"github.com/ledgerly/servicing-app/bulkworker/report"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/rules"
	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/models"
)

// Staged is the per chunk work of a fraud block: the grouped rules of every
// valid requester and a preprocessed error for every other one.
type Staged struct {
	Groups rules.Groups
	Errors []report.Preprocessed
}

// FraudBlock derives match rules for each requester, persists the novel ones
// and flags every account they match.
type FraudBlock struct {
	repo   repository.Repository
	uow    repository.UnitOfWork
	gate   *gate.Gate
	region string
}

var _ StagedHandler = &FraudBlock{}

func NewFraudBlock(repo repository.Repository, uow repository.UnitOfWork, g *gate.Gate, region string) *FraudBlock {
	return &FraudBlock{repo: repo, uow: uow, gate: g, region: region}
}

func (f *FraudBlock) Handle(ctx context.Context, batch Batch) ([]models.JobOutputRow, error) {
	staged, err := f.Stage(ctx, batch)
	if err != nil {
		return nil, err
	}
	return f.Commit(ctx, batch.Job, batch.Action, []Staged{staged})
}

// Stage loads and normalizes the accounts of one chunk. Nothing is written.
func (f *FraudBlock) Stage(ctx context.Context, batch Batch) (Staged, error) {
	accounts, err := f.repo.FindAccountsByIDs(ctx, batch.IDs)
	if err != nil {
		return Staged{}, errors.Wrap(err, "failed to load accounts")
	}

	opts := rules.NormalizeOptions{
		SkipAlreadyBlocked: batch.Job.ExtraConfig.SkipBlocked(),
		DefaultRegion:      f.region,
	}

	var staged Staged
	contribs := make([]rules.Contribution, 0, len(batch.IDs))
	for _, id := range batch.IDs {
		derived, err := rules.Normalize(accounts[id], opts)
		if err != nil {
			var re *rules.RuleError
			if !goerrors.As(err, &re) {
				return Staged{}, errors.Wrapf(err, "failed to normalize account %d", id)
			}
			staged.Errors = append(staged.Errors, report.Preprocessed{RequesterID: id, Error: re.Code})
			continue
		}
		contribs = append(contribs, rules.Contribution{RequesterID: id, Rules: derived})
	}
	staged.Groups = rules.Group(contribs)
	return staged, nil
}

// Commit applies the rules of every staged chunk in a single unit of work and
// collates the report. A rolled back unit of work fails the whole job.
func (f *FraudBlock) Commit(ctx context.Context, job *models.BulkJob, action *models.ActionRecord,
	staged []Staged) ([]models.JobOutputRow, error) {

	groups := rules.Groups{}
	var entries []report.Preprocessed
	for _, s := range staged {
		groups.Merge(s.Groups)
		entries = append(entries, s.Errors...)
	}

	logger := log.GetCtxLogger(ctx).WithFields(logrus.Fields{"unique_rules": len(groups), "errors": len(entries)})
	if len(groups) == 0 {
		logger.Info("No requesters to block")
		return report.Collate(entries), nil
	}

	res := f.gate.Apply(ctx, f.uow, groups, gate.Request{
		JobID:          job.ID,
		ActionRecordID: action.ID,
		ActorID:        action.ActorID,
	})
	if !res.Committed {
		return nil, errors.Wrap(res.Err, "fraud block rolled back")
	}

	affected := make(map[int64]rules.RequesterSet)
	for _, out := range res.Outcomes {
		for _, requester := range out.Requesters {
			set, ok := affected[requester]
			if !ok {
				set = rules.NewRequesterSet()
				affected[requester] = set
			}
			for _, id := range out.Affected {
				set.Add(id)
			}
		}
	}
	for requester, set := range affected {
		entries = append(entries, report.Preprocessed{RequesterID: requester, Affected: set.Sorted()})
	}

	logger.Infof("Fraud block committed for %d requesters", len(affected))
	return report.Collate(entries), nil
}
