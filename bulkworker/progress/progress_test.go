package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/models"
)

type RedisTrackerTestSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *redis.Client
	tracker *RedisTracker
	ctx     context.Context
}

func TestRedisTrackerTestSuite(t *testing.T) {
	suite.Run(t, new(RedisTrackerTestSuite))
}

func (s *RedisTrackerTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.tracker = NewRedisTracker(s.client, time.Hour)
	s.ctx = context.Background()
}

func (s *RedisTrackerTestSuite) TearDownTest() {
	s.client.Close()
}

func (s *RedisTrackerTestSuite) TestLifecycle() {
	s.Require().NoError(s.tracker.Start(s.ctx, 12, 1200, 3))
	s.Require().NoError(s.tracker.Chunk(s.ctx, 12, 1, 500))
	s.Require().NoError(s.tracker.Chunk(s.ctx, 12, 2, 1000))

	snap, err := s.tracker.Get(s.ctx, 12)
	s.Require().NoError(err)
	s.Equal(models.JobStatusProcessing, snap.Status)
	s.Equal(1200, snap.Rows)
	s.Equal(3, snap.Chunks)
	s.Equal(2, snap.ChunksDone)
	s.Equal(1000, snap.RowsDone)
	s.False(snap.UpdatedAt.IsZero())

	s.Require().NoError(s.tracker.Finish(s.ctx, 12, models.JobStatusCompleted))
	snap, err = s.tracker.Get(s.ctx, 12)
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, snap.Status)
	s.Equal(1000, snap.RowsDone)
}

func (s *RedisTrackerTestSuite) TestProgressExpires() {
	s.Require().NoError(s.tracker.Start(s.ctx, 3, 10, 1))
	s.Equal(time.Hour, s.mr.TTL(progressKey(3)))

	s.mr.FastForward(time.Hour + time.Minute)
	_, err := s.tracker.Get(s.ctx, 3)
	s.ErrorIs(err, redis.Nil)
}

func (s *RedisTrackerTestSuite) TestRedisDown() {
	s.mr.Close()
	s.Error(s.tracker.Start(s.ctx, 1, 1, 1))
}

func TestNewSelectsTracker(t *testing.T) {
	assert.IsType(t, LogTracker{}, New(Config{}))

	mr := miniredis.RunT(t)
	assert.IsType(t, &RedisTracker{}, New(Config{RedisAddr: mr.Addr(), TTLMin: 5}))
}

func TestLogTracker(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := log.NewStructuredLoggerEntry(logger, context.Background())

	var tracker LogTracker
	assert.NoError(t, tracker.Start(ctx, 1, 10, 2))
	assert.NoError(t, tracker.Chunk(ctx, 1, 1, 5))
	assert.NoError(t, tracker.Finish(ctx, 1, models.JobStatusFailed))

	entries := hook.AllEntries()
	assert.Len(t, entries, 3)
	assert.Equal(t, logrus.Fields{"chunks_done": 1, "rows_done": 5}, entries[1].Data)
	assert.Equal(t, models.JobStatusFailed, entries[2].Data["status"])
}
