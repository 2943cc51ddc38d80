package monitoring

import (
	"context"
	"testing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/ledgerly/servicing-app/conf"
)

type TimerTestSuite struct {
	suite.Suite
	timer *timer
	hook  *test.Hook
}

func TestTimerTestSuite(t *testing.T) {
	suite.Run(t, new(TimerTestSuite))
}

func (s *TimerTestSuite) SetupTest() {
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName("servicing-test"),
		newrelic.ConfigEnabled(false),
	)
	s.Require().NoError(err)

	logger, hook := test.NewNullLogger()
	s.hook = hook
	s.timer = &timer{nr: app, logger: logger}
}

func (s *TimerTestSuite) TestParentAndChild() {
	ctx := NewContext(context.Background(), s.timer)
	ctx, end := NewParent(ctx, "ProcessBulkJob")
	s.NotNil(ctx)

	endChild := NewChild(ctx, "chunk")
	endChild()
	end()

	s.Empty(s.hook.AllEntries())
}

func (s *TimerTestSuite) TestChildWithoutParent() {
	end := s.timer.newChild(context.Background(), "orphan")
	s.NotNil(end)
	end()

	s.Require().Len(s.hook.AllEntries(), 1)
	s.Contains(s.hook.LastEntry().Message, "No transaction found")
}

func TestDefaultTimerIsNoop(t *testing.T) {
	ctx := context.WithValue(context.Background(), key(99), "x")
	got, end := NewParent(ctx, "txn")
	assert.Equal(t, ctx, got)
	end()
	NewChild(got, "child")()
}

func TestGetTimerWithoutLicense(t *testing.T) {
	assert.NoError(t, conf.UnsetEnv(t, "NEW_RELIC_LICENSE_KEY"))
	assert.Equal(t, defaultTimer, GetTimer())
}
