package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type ActionCode string

const (
	ActionFraudBlock             ActionCode = "FRAUD_BLOCK"
	ActionAccountClosure         ActionCode = "ACCOUNT_CLOSURE"
	ActionAdminNote              ActionCode = "ADMIN_NOTE"
	ActionCstSuspend             ActionCode = "CST_SUSPEND"
	ActionCstCancelWithoutRefund ActionCode = "CST_CANCEL_WITHOUT_REFUND"
)

// BulkJob is an operator request to apply one action to every account listed
// in InputFile.
type BulkJob struct {
	ID             int64
	Status         JobStatus
	InputFile      string
	RowCount       int
	OutputFile     string
	ActionCode     ActionCode
	ExtraConfig    JobConfig
	ActionRecordID int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// OutputURL is minted on read and never stored.
	OutputURL string
}

// JobConfig holds the free-form extra configuration attached to a job.
type JobConfig struct {
	TargetSubtype      string `json:"target_subtype,omitempty"`
	SkipAlreadyBlocked *bool  `json:"skip_already_blocked,omitempty"`
}

// SkipBlocked defaults to true when the job does not say otherwise.
func (c JobConfig) SkipBlocked() bool {
	return c.SkipAlreadyBlocked == nil || *c.SkipAlreadyBlocked
}

func (c JobConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *JobConfig) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = JobConfig{}
		return nil
	case []byte:
		return c.unmarshal(v)
	case string:
		return c.unmarshal([]byte(v))
	default:
		return fmt.Errorf("unsupported type %T for job config", src)
	}
}

func (c *JobConfig) unmarshal(b []byte) error {
	*c = JobConfig{}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c)
}

// ActionRecord is the operator's justification for a job.
type ActionRecord struct {
	ID         int64
	ReasonCode string
	Note       string
	ActorID    int64
	CreatedAt  time.Time
}

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusCancelled AccountStatus = "CANCELLED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

type Account struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	AddressLine1 string
	City         string
	State        string
	Zip          string
	Status       AccountStatus
	// Blocked is true iff the account has at least one unresolved alert.
	Blocked bool
}

// Alert links an account to the rule that flagged it. RuleID is nil for
// accounts flagged directly.
type Alert struct {
	ID             int64
	AccountID      int64
	RuleID         *int64
	JobID          int64
	ActionRecordID int64
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// JobOutputRow is one line of a job's report.
type JobOutputRow struct {
	AccountID    int64
	RequesterIDs []int64
	Error        string
}

// AccountAction is the audit entry written for every account a non fraud
// handler changes.
type AccountAction struct {
	AccountID      int64
	JobID          int64
	ActionCode     ActionCode
	ActionRecordID int64
}

type AdminNote struct {
	AccountID      int64
	JobID          int64
	ActionRecordID int64
	Note           string
	ActorID        int64
}

// PersistedRule is a stored match rule. Key is unique across the store.
type PersistedRule struct {
	ID        int64
	Key       string
	Kind      string
	CreatedBy int64
	CreatedAt time.Time
}
