// Package repositorytest provides an in-memory repository for tests.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/rules"
	"github.com/ledgerly/servicing-app/servicing/models"
)

var (
	_ repository.Repository = &Store{}
	_ repository.UnitOfWork = &Store{}
)

// Store keeps every table in memory. Its Do method snapshots the state and
// restores it when the unit of work fails, so rollback behaves like the
// database.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	Jobs           map[int64]*models.BulkJob
	ActionRecords  map[int64]*models.ActionRecord
	Accounts       map[int64]*models.Account
	Rules          map[string]*models.PersistedRule
	JobRules       map[[2]int64]struct{}
	Alerts         []*models.Alert
	AdminNotes     []models.AdminNote
	AccountActions []models.AccountAction

	// Region is used to match phone rules.
	Region string

	// FailFlag makes FlagAccount fail for the account after it was blocked.
	FailFlag map[int64]error
	// FailCreateRule makes CreateRule fail for the rule key.
	FailCreateRule map[string]error
	// RaceRules simulates another job committing the rule key between the
	// existence check and the insert.
	RaceRules map[string]bool
	// FailStatus makes UpdateJobStatusCheckStatus fail when moving to the status.
	FailStatus map[models.JobStatus]error

	Commits   int
	Rollbacks int

	nextID int64
}

func NewStore() *Store {
	return &Store{
		Jobs:           make(map[int64]*models.BulkJob),
		ActionRecords:  make(map[int64]*models.ActionRecord),
		Accounts:       make(map[int64]*models.Account),
		Rules:          make(map[string]*models.PersistedRule),
		JobRules:       make(map[[2]int64]struct{}),
		FailFlag:       make(map[int64]error),
		FailCreateRule: make(map[string]error),
		RaceRules:      make(map[string]bool),
		FailStatus:     make(map[models.JobStatus]error),
		Region:         "US",
		nextID:         1000,
	}
}

func (s *Store) AddAccount(a models.Account) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	s.Accounts[a.ID] = &a
	return s
}

func (s *Store) AddActionRecord(ar models.ActionRecord) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActionRecords[ar.ID] = &ar
	return s
}

func (s *Store) AddJob(j models.BulkJob) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	s.Jobs[j.ID] = &j
	return s
}

// AddRule stores a rule as if it had been created by an earlier job.
func (s *Store) AddRule(rule rules.MatchRule, actorID int64) *models.PersistedRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRule(rule, actorID)
}

func (s *Store) Account(id int64) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Accounts[id]
}

func (s *Store) Job(id int64) models.BulkJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Jobs[id]
}

// OpenAlerts returns the unresolved alerts for the account.
func (s *Store) OpenAlerts(accountID int64) []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.Alerts {
		if a.AccountID == accountID && a.ResolvedAt == nil {
			out = append(out, *a)
		}
	}
	return out
}

// RuleKeys returns the persisted rule keys in order.
func (s *Store) RuleKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.Rules))
	for k := range s.Rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repo repository.Repository) error) repository.TxResult {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()

	if err := fn(ctx, s); err != nil {
		s.restore(snap)
		s.mu.Lock()
		s.Rollbacks++
		s.mu.Unlock()
		return repository.TxResult{Err: err}
	}

	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return repository.TxResult{Committed: true}
}

type snapshot struct {
	accounts map[int64]models.Account
	rules    map[string]models.PersistedRule
	jobRules map[[2]int64]struct{}
	alerts   []models.Alert
	notes    []models.AdminNote
	actions  []models.AccountAction
	nextID   int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		accounts: make(map[int64]models.Account, len(s.Accounts)),
		rules:    make(map[string]models.PersistedRule, len(s.Rules)),
		jobRules: make(map[[2]int64]struct{}, len(s.JobRules)),
		notes:    append([]models.AdminNote(nil), s.AdminNotes...),
		actions:  append([]models.AccountAction(nil), s.AccountActions...),
		nextID:   s.nextID,
	}
	for id, a := range s.Accounts {
		snap.accounts[id] = *a
	}
	for k, r := range s.Rules {
		snap.rules[k] = *r
	}
	for k := range s.JobRules {
		snap.jobRules[k] = struct{}{}
	}
	for _, a := range s.Alerts {
		snap.alerts = append(snap.alerts, *a)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Accounts = make(map[int64]*models.Account, len(snap.accounts))
	for id, a := range snap.accounts {
		a := a
		s.Accounts[id] = &a
	}
	s.Rules = make(map[string]*models.PersistedRule, len(snap.rules))
	for k, r := range snap.rules {
		r := r
		s.Rules[k] = &r
	}
	s.JobRules = snap.jobRules
	s.Alerts = nil
	for _, a := range snap.alerts {
		a := a
		s.Alerts = append(s.Alerts, &a)
	}
	s.AdminNotes, s.AccountActions, s.nextID = snap.notes, snap.actions, snap.nextID
}

func (s *Store) GetJobByID(ctx context.Context, jobID int64) (*models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.Jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID int64, new models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.Jobs[jobID]
	if !ok {
		return repository.ErrJobNotUpdated
	}
	j.Status, j.UpdatedAt = new, time.Now()
	return nil
}

func (s *Store) UpdateJobStatusCheckStatus(ctx context.Context, jobID int64, current, new models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailStatus[new]; err != nil {
		return err
	}
	j, ok := s.Jobs[jobID]
	if !ok || j.Status != current {
		return repository.ErrJobNotUpdated
	}
	j.Status, j.UpdatedAt = new, time.Now()
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID int64, outputFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailStatus[models.JobStatusCompleted]; err != nil {
		return err
	}
	j, ok := s.Jobs[jobID]
	if !ok || j.Status != models.JobStatusProcessing {
		return repository.ErrJobNotUpdated
	}
	j.Status, j.OutputFile, j.UpdatedAt = models.JobStatusCompleted, outputFile, time.Now()
	return nil
}

func (s *Store) UpdateJobRowCount(ctx context.Context, jobID int64, rowCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.Jobs[jobID]
	if !ok {
		return repository.ErrJobNotUpdated
	}
	j.RowCount = rowCount
	return nil
}

func (s *Store) GetActionRecordByID(ctx context.Context, id int64) (*models.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ar, ok := s.ActionRecords[id]
	if !ok {
		return nil, repository.ErrActionNotFound
	}
	copied := *ar
	return &copied, nil
}

func (s *Store) FindAccountsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*models.Account, len(ids))
	for _, id := range ids {
		if a, ok := s.Accounts[id]; ok {
			copied := *a
			out[id] = &copied
		}
	}
	return out, nil
}

func (s *Store) FindAccountsMatching(ctx context.Context, rule rules.MatchRule) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, a := range s.Accounts {
		if rules.Matches(rule, a, s.Region) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, accountID int64, status models.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Status = status
	return nil
}

func (s *Store) FlagAccount(ctx context.Context, accountID int64, flag repository.Flag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Accounts[accountID]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	a.Blocked = true
	if err := s.FailFlag[accountID]; err != nil {
		return false, err
	}

	for _, existing := range s.Alerts {
		if existing.AccountID == accountID && existing.ResolvedAt == nil && sameRule(existing.RuleID, flag.RuleID) {
			return false, nil
		}
	}
	s.nextID++
	s.Alerts = append(s.Alerts, &models.Alert{
		ID:             s.nextID,
		AccountID:      accountID,
		RuleID:         flag.RuleID,
		JobID:          flag.JobID,
		ActionRecordID: flag.ActionRecordID,
		CreatedAt:      time.Now(),
	})
	return true, nil
}

func sameRule(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) ResolveAlert(ctx context.Context, alertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var resolved *models.Alert
	for _, a := range s.Alerts {
		if a.ID == alertID && a.ResolvedAt == nil {
			resolved = a
		}
	}
	if resolved == nil {
		return repository.ErrAlertNotFound
	}
	now := time.Now()
	resolved.ResolvedAt = &now

	blocked := false
	for _, a := range s.Alerts {
		if a.AccountID == resolved.AccountID && a.ResolvedAt == nil {
			blocked = true
		}
	}
	if acct, ok := s.Accounts[resolved.AccountID]; ok {
		acct.Blocked = blocked
	}
	return nil
}

func (s *Store) GetRuleByKey(ctx context.Context, key string) (*models.PersistedRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.Rules[key]
	if !ok {
		return nil, repository.ErrRuleNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *Store) CreateRule(ctx context.Context, rule rules.MatchRule, actorID int64) (*models.PersistedRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rule.Key()
	if err := s.FailCreateRule[key]; err != nil {
		return nil, err
	}
	if s.RaceRules[key] {
		delete(s.RaceRules, key)
		s.insertRule(rule, -1)
		return nil, repository.ErrRuleExists
	}
	if _, ok := s.Rules[key]; ok {
		return nil, repository.ErrRuleExists
	}
	copied := *s.insertRule(rule, actorID)
	return &copied, nil
}

func (s *Store) insertRule(rule rules.MatchRule, actorID int64) *models.PersistedRule {
	s.nextID++
	pr := &models.PersistedRule{
		ID:        s.nextID,
		Key:       rule.Key(),
		Kind:      string(rule.Kind()),
		CreatedBy: actorID,
		CreatedAt: time.Now(),
	}
	s.Rules[pr.Key] = pr
	return pr
}

func (s *Store) LinkRuleToJob(ctx context.Context, ruleID, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.JobRules[[2]int64{jobID, ruleID}] = struct{}{}
	return nil
}

func (s *Store) CreateAdminNote(ctx context.Context, note models.AdminNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Accounts[note.AccountID]; !ok {
		return repository.ErrAccountNotFound
	}
	s.AdminNotes = append(s.AdminNotes, note)
	return nil
}

func (s *Store) RecordAccountAction(ctx context.Context, action models.AccountAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AccountActions = append(s.AccountActions, action)
	return nil
}
