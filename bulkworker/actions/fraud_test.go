package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ledgerly/servicing-app/bulkworker/gate"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/repository/repositorytest"
	"github.com/ledgerly/servicing-app/bulkworker/rules"
	"github.com/ledgerly/servicing-app/servicing/constants"
	"github.com/ledgerly/servicing-app/servicing/models"
)

type FraudBlockTestSuite struct {
	suite.Suite
	store   *repositorytest.Store
	handler *FraudBlock
	job     *models.BulkJob
	action  *models.ActionRecord
	ctx     context.Context
}

func TestFraudBlockTestSuite(t *testing.T) {
	suite.Run(t, new(FraudBlockTestSuite))
}

func (s *FraudBlockTestSuite) SetupTest() {
	s.store = repositorytest.NewStore()
	s.handler = NewFraudBlock(s.store, s.store, gate.New(gate.Config{Concurrency: 4, RaceRetries: 1, RaceBackoffMs: 1}), "US")
	s.job = &models.BulkJob{ID: 1, ActionCode: models.ActionFraudBlock, Status: models.JobStatusProcessing}
	s.action = &models.ActionRecord{ID: 2, ReasonCode: "ATO", ActorID: 77}
	s.ctx = context.Background()
}

func (s *FraudBlockTestSuite) batch(ids ...int64) Batch {
	return Batch{Job: s.job, Action: s.action, IDs: ids}
}

func homeAddress(id int64) models.Account {
	return models.Account{
		ID: id, FirstName: "Jane", LastName: "Doe", AddressLine1: "1 Main St",
		City: "Springfield", State: "IL", Zip: "62701", Status: models.AccountStatusActive,
	}
}

func (s *FraudBlockTestSuite) TestSinglePhoneRule() {
	s.store.AddAccount(models.Account{ID: 101, Phone: "+1 (555) 123-4567"})

	rows, err := s.handler.Handle(s.ctx, s.batch(101))
	s.Require().NoError(err)
	s.Equal([]models.JobOutputRow{{AccountID: 101, RequesterIDs: []int64{101}}}, rows)
	s.Equal([]string{rules.PhoneRule{Phone: "+15551234567"}.Key()}, s.store.RuleKeys())
	s.Equal(1, s.store.Commits)
}

func (s *FraudBlockTestSuite) TestSharedAddress() {
	s.store.AddAccount(homeAddress(101)).AddAccount(homeAddress(102))

	rows, err := s.handler.Handle(s.ctx, s.batch(101, 102))
	s.Require().NoError(err)
	s.Equal([]models.JobOutputRow{
		{AccountID: 101, RequesterIDs: []int64{101, 102}},
		{AccountID: 102, RequesterIDs: []int64{101, 102}},
	}, rows)
	s.Len(s.store.RuleKeys(), 1)
}

func (s *FraudBlockTestSuite) TestMissingAccount() {
	rows, err := s.handler.Handle(s.ctx, s.batch(999))
	s.Require().NoError(err)
	s.Equal([]models.JobOutputRow{{AccountID: 999, Error: constants.UserDoesNotExist}}, rows)
	s.Empty(s.store.RuleKeys())
}

func (s *FraudBlockTestSuite) TestAlreadyBlockedSkipsTransaction() {
	acct := models.Account{ID: 101, Email: "a@example.com", Blocked: true}
	s.store.AddAccount(acct)

	rows, err := s.handler.Handle(s.ctx, s.batch(101))
	s.Require().NoError(err)
	s.Equal([]models.JobOutputRow{{AccountID: 101, Error: constants.AlreadyFraudBlocked}}, rows)
	s.Zero(s.store.Commits)
	s.Zero(s.store.Rollbacks)
}

func (s *FraudBlockTestSuite) TestAlreadyBlockedProcessedWhenNotSkipping() {
	s.store.AddAccount(models.Account{ID: 101, Email: "a@example.com", Blocked: true})
	skip := false
	s.job.ExtraConfig.SkipAlreadyBlocked = &skip

	rows, err := s.handler.Handle(s.ctx, s.batch(101))
	s.Require().NoError(err)
	s.Equal([]models.JobOutputRow{{AccountID: 101, RequesterIDs: []int64{101}}}, rows)
	s.Len(s.store.RuleKeys(), 1)
}

func (s *FraudBlockTestSuite) TestSupersetFailureRollsBack() {
	s.store.AddAccount(homeAddress(101)).AddAccount(homeAddress(205))
	s.store.FailFlag[205] = errors.New("connection reset")

	rows, err := s.handler.Handle(s.ctx, s.batch(101))
	s.Nil(rows)
	s.ErrorContains(err, "fraud block rolled back")
	s.Empty(s.store.RuleKeys())
	s.Empty(s.store.OpenAlerts(101))
	s.Empty(s.store.OpenAlerts(205))
}

func (s *FraudBlockTestSuite) TestMixedErrorsAndMatches() {
	s.store.AddAccount(homeAddress(101)).
		AddAccount(homeAddress(205)).
		AddAccount(models.Account{ID: 300, Blocked: true})

	rows, err := s.handler.Handle(s.ctx, s.batch(101, 300, 999))
	s.Require().NoError(err)
	s.Equal([]models.JobOutputRow{
		{AccountID: 101, RequesterIDs: []int64{101}},
		{AccountID: 205, RequesterIDs: []int64{101}},
		{AccountID: 300, Error: constants.AlreadyFraudBlocked},
		{AccountID: 999, Error: constants.UserDoesNotExist},
	}, rows)
}

func (s *FraudBlockTestSuite) TestStagedChunksCommitOnce() {
	s.store.AddAccount(homeAddress(101)).AddAccount(homeAddress(102)).
		AddAccount(models.Account{ID: 103})

	first, err := s.handler.Stage(s.ctx, s.batch(101))
	s.Require().NoError(err)
	second, err := s.handler.Stage(s.ctx, s.batch(102, 103, 404))
	s.Require().NoError(err)
	s.Zero(s.store.Commits)

	rows, err := s.handler.Commit(s.ctx, s.job, s.action, []Staged{first, second})
	s.Require().NoError(err)
	s.Equal(1, s.store.Commits)
	s.Len(s.store.RuleKeys(), 1)
	s.Equal([]models.JobOutputRow{
		{AccountID: 101, RequesterIDs: []int64{101, 102}},
		{AccountID: 102, RequesterIDs: []int64{101, 102}},
		{AccountID: 103, RequesterIDs: []int64{103}},
		{AccountID: 404, Error: constants.UserDoesNotExist},
	}, rows)
	s.True(s.store.Account(103).Blocked)
}

func (s *FraudBlockTestSuite) TestLoadFailure() {
	h := NewFraudBlock(failingRepo{s.store}, s.store, gate.New(gate.Config{}), "US")
	_, err := h.Handle(s.ctx, s.batch(1))
	s.ErrorContains(err, "failed to load accounts")
}

type failingRepo struct {
	repository.Repository
}

func (failingRepo) FindAccountsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Account, error) {
	return nil, errors.New("too many connections")
}
