// Package gate persists novel match rules and flags every account they
// match, all inside one unit of work.
package gate

import (
	"context"
	goerrors "errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/rules"
	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxInFlight = 10

// ErrAccountVanished is returned when a requester's account disappears
// between validation and flagging.
var ErrAccountVanished = goerrors.New("requester account no longer exists")

type Config struct {
	Concurrency int    `conf:"BULK_CONCURRENCY_FRAUD_GATE" conf_default:"10"`
	RaceRetries uint64 `conf:"BULK_RULE_RACE_RETRIES" conf_default:"3"`
	// RaceBackoffMs is the first wait before re-reading a rule another job
	// created concurrently.
	RaceBackoffMs int `conf:"BULK_RULE_RACE_BACKOFF_MS" conf_default:"20"`
}

// Request identifies the job the rules are applied for.
type Request struct {
	JobID          int64
	ActionRecordID int64
	ActorID        int64
}

// Outcome is what happened for one unique rule.
type Outcome struct {
	Rule       rules.MatchRule
	RuleID     *int64
	Created    bool
	Requesters []int64
	Affected   []int64
}

// Result carries the outcomes along with the explicit commit or rollback
// of the unit of work. Outcomes is empty unless Committed.
type Result struct {
	Outcomes []Outcome
	repository.TxResult
}

type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > maxInFlight {
		cfg.Concurrency = maxInFlight
	}
	if cfg.RaceBackoffMs < 1 {
		cfg.RaceBackoffMs = 1
	}
	return &Gate{cfg: cfg}
}

// Apply runs every rule in groups within a single unit of work. Any error
// rolls back every rule, link and alert written for the job.
func (g *Gate) Apply(ctx context.Context, uow repository.UnitOfWork, groups rules.Groups, req Request) Result {
	ruleList := groups.SortedRules()
	outcomes := make([]Outcome, len(ruleList))

	tx := uow.Do(ctx, func(ctx context.Context, repo repository.Repository) error {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(g.cfg.Concurrency)

		for i, rule := range ruleList {
			i, rule := i, rule
			requesters := groups[rule].Sorted()
			eg.Go(func() error {
				out, err := g.applyRule(egCtx, repo, rule, requesters, req)
				if err != nil {
					return errors.Wrapf(err, "failed to apply %s rule", rule.Kind())
				}
				outcomes[i] = out
				return nil
			})
		}
		return eg.Wait()
	})

	if !tx.Committed {
		return Result{TxResult: tx}
	}
	return Result{Outcomes: outcomes, TxResult: tx}
}

func (g *Gate) applyRule(ctx context.Context, repo repository.Repository, rule rules.MatchRule,
	requesters []int64, req Request) (Outcome, error) {

	if rule == rules.NoRule {
		return g.flagDirect(ctx, repo, requesters, req)
	}

	existing, err := repo.GetRuleByKey(ctx, rule.Key())
	if err == nil {
		return g.applyExisting(ctx, repo, rule, existing, requesters, req)
	}
	if !goerrors.Is(err, repository.ErrRuleNotFound) {
		return Outcome{}, err
	}

	created, err := repo.CreateRule(ctx, rule, req.ActorID)
	if goerrors.Is(err, repository.ErrRuleExists) {
		// another job committed the same rule first
		existing, err = g.awaitRule(ctx, repo, rule)
		if err != nil {
			return Outcome{}, err
		}
		return g.applyExisting(ctx, repo, rule, existing, requesters, req)
	}
	if err != nil {
		return Outcome{}, err
	}
	return g.applyNew(ctx, repo, rule, created, requesters, req)
}

func (g *Gate) applyNew(ctx context.Context, repo repository.Repository, rule rules.MatchRule,
	created *models.PersistedRule, requesters []int64, req Request) (Outcome, error) {

	logger := log.GetCtxLogger(ctx).WithFields(logrus.Fields{"rule_id": created.ID, "rule_kind": rule.Kind()})

	if err := repo.LinkRuleToJob(ctx, created.ID, req.JobID); err != nil {
		return Outcome{}, errors.Wrap(err, "failed to link rule to job")
	}

	matches, err := repo.FindAccountsMatching(ctx, rule)
	if err != nil {
		return Outcome{}, err
	}

	targets := union(matches, requesters)
	flag := repository.Flag{RuleID: &created.ID, JobID: req.JobID, ActionRecordID: req.ActionRecordID}
	for _, id := range targets {
		if _, err := repo.FlagAccount(ctx, id, flag); err != nil {
			return Outcome{}, flagError(err, id)
		}
	}

	logger.Infof("Created rule, flagged %d accounts for %d requesters", len(targets), len(requesters))
	return Outcome{
		Rule:       rule,
		RuleID:     &created.ID,
		Created:    true,
		Requesters: requesters,
		Affected:   targets,
	}, nil
}

// applyExisting flags accounts matching an already persisted rule. Accounts
// that already carry an open alert for the rule are left alone and only
// requesters and newly flagged accounts count as affected.
func (g *Gate) applyExisting(ctx context.Context, repo repository.Repository, rule rules.MatchRule,
	existing *models.PersistedRule, requesters []int64, req Request) (Outcome, error) {

	matches, err := repo.FindAccountsMatching(ctx, rule)
	if err != nil {
		return Outcome{}, err
	}

	flag := repository.Flag{RuleID: &existing.ID, JobID: req.JobID, ActionRecordID: req.ActionRecordID}
	var newly []int64
	for _, id := range union(matches, requesters) {
		created, err := repo.FlagAccount(ctx, id, flag)
		if err != nil {
			return Outcome{}, flagError(err, id)
		}
		if created {
			newly = append(newly, id)
		}
	}

	log.GetCtxLogger(ctx).WithFields(logrus.Fields{"rule_id": existing.ID, "rule_kind": rule.Kind()}).
		Infof("Rule already exists, flagged %d new accounts", len(newly))
	return Outcome{
		Rule:       rule,
		RuleID:     &existing.ID,
		Requesters: requesters,
		Affected:   union(requesters, newly),
	}, nil
}

func (g *Gate) flagDirect(ctx context.Context, repo repository.Repository, requesters []int64,
	req Request) (Outcome, error) {

	flag := repository.Flag{JobID: req.JobID, ActionRecordID: req.ActionRecordID}
	for _, id := range requesters {
		if _, err := repo.FlagAccount(ctx, id, flag); err != nil {
			return Outcome{}, flagError(err, id)
		}
	}
	return Outcome{Rule: rules.NoRule, Requesters: requesters, Affected: requesters}, nil
}

func (g *Gate) awaitRule(ctx context.Context, repo repository.Repository, rule rules.MatchRule) (*models.PersistedRule, error) {
	var pr *models.PersistedRule
	op := func() error {
		var err error
		pr, err = repo.GetRuleByKey(ctx, rule.Key())
		if err != nil && !goerrors.Is(err, repository.ErrRuleNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(g.cfg.RaceBackoffMs) * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, g.cfg.RaceRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, errors.Wrap(err, "rule reported as existing but could not be read")
	}
	return pr, nil
}

func flagError(err error, accountID int64) error {
	if goerrors.Is(err, repository.ErrAccountNotFound) {
		return errors.Wrapf(ErrAccountVanished, "account %d", accountID)
	}
	return errors.Wrapf(err, "failed to flag account %d", accountID)
}

func union(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
