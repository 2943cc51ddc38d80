// package repository contains all of the methods the bulk worker needs to
// interact with the servicing data
package repository

import (
	"context"
	"errors"

	"github.com/ledgerly/servicing-app/bulkworker/rules"
	"github.com/ledgerly/servicing-app/servicing/models"
)

type Repository interface {
	jobRepository
	actionRecordRepository
	accountRepository
	alertRepository
	ruleRepository
	auditRepository
}

type jobRepository interface {
	GetJobByID(ctx context.Context, jobID int64) (*models.BulkJob, error)

	UpdateJobStatus(ctx context.Context, jobID int64, new models.JobStatus) error

	// UpdateJobStatusCheckStatus updates the particular job indicated by the jobID
	// iff the job's status field matches current.
	UpdateJobStatusCheckStatus(ctx context.Context, jobID int64, current, new models.JobStatus) error

	// CompleteJob records the output reference and moves the job from
	// PROCESSING to COMPLETED.
	CompleteJob(ctx context.Context, jobID int64, outputFile string) error

	UpdateJobRowCount(ctx context.Context, jobID int64, rowCount int) error
}

type actionRecordRepository interface {
	GetActionRecordByID(ctx context.Context, id int64) (*models.ActionRecord, error)
}

type accountRepository interface {
	// FindAccountsByIDs returns the accounts that exist, keyed by id.
	FindAccountsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Account, error)

	// FindAccountsMatching returns the ids of every account carrying the
	// rule's attributes, ordered ascending.
	FindAccountsMatching(ctx context.Context, rule rules.MatchRule) ([]int64, error)

	UpdateAccountStatus(ctx context.Context, accountID int64, status models.AccountStatus) error
}

type alertRepository interface {
	// FlagAccount opens an alert for the account and marks it blocked.
	// created is false when an unresolved alert for the same rule (or the
	// same direct flag) already existed.
	FlagAccount(ctx context.Context, accountID int64, flag Flag) (created bool, err error)

	// ResolveAlert closes an alert and recomputes the account's blocked state.
	ResolveAlert(ctx context.Context, alertID int64) error
}

type ruleRepository interface {
	// GetRuleByKey returns ErrRuleNotFound when no rule carries the key.
	GetRuleByKey(ctx context.Context, key string) (*models.PersistedRule, error)

	// CreateRule returns ErrRuleExists when the store rejects the rule as a
	// duplicate.
	CreateRule(ctx context.Context, rule rules.MatchRule, actorID int64) (*models.PersistedRule, error)

	LinkRuleToJob(ctx context.Context, ruleID, jobID int64) error
}

type auditRepository interface {
	CreateAdminNote(ctx context.Context, note models.AdminNote) error

	RecordAccountAction(ctx context.Context, action models.AccountAction) error
}

// Flag describes why an account is being flagged. RuleID is nil for accounts
// flagged directly.
type Flag struct {
	RuleID         *int64
	JobID          int64
	ActionRecordID int64
}

// TxResult is the explicit outcome of a unit of work.
type TxResult struct {
	Committed bool
	Err       error
}

// UnitOfWork runs fn against a transactional Repository. The transaction is
// committed when fn returns nil and rolled back otherwise. The Repository
// handed to fn may be used from multiple goroutines.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repo Repository) error) TxResult
}

var (
	ErrJobNotUpdated   = errors.New("job was not updated, no match found")
	ErrJobNotFound     = errors.New("no job found for given id")
	ErrActionNotFound  = errors.New("no action record found for given id")
	ErrAccountNotFound = errors.New("no account found for given id")
	ErrAlertNotFound   = errors.New("no unresolved alert found for given id")
	ErrRuleNotFound    = errors.New("no rule found for given key")
	ErrRuleExists      = errors.New("rule already exists")
)
