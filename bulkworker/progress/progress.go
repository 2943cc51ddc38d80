// Package progress publishes how far a bulk job has got so operators can
// poll it while the worker runs.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/models"
)

type Tracker interface {
	Start(ctx context.Context, jobID int64, rows, chunks int) error
	Chunk(ctx context.Context, jobID int64, chunksDone, rowsDone int) error
	Finish(ctx context.Context, jobID int64, status models.JobStatus) error
}

type Config struct {
	RedisAddr string `conf:"PROGRESS_REDIS_ADDR"`
	TTLMin    int    `conf:"PROGRESS_TTL_MIN" conf_default:"1440"`
}

// New returns a Redis backed tracker when an address is configured and a
// log-only tracker otherwise.
func New(cfg Config) Tracker {
	if cfg.RedisAddr == "" {
		return LogTracker{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return NewRedisTracker(client, time.Duration(cfg.TTLMin)*time.Minute)
}

// Snapshot is the last published state of a job.
type Snapshot struct {
	Status     models.JobStatus
	Rows       int
	Chunks     int
	ChunksDone int
	RowsDone   int
	UpdatedAt  time.Time
}

type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

func progressKey(jobID int64) string {
	return fmt.Sprintf("servicing:bulk_job:%d:progress", jobID)
}

func (r *RedisTracker) Start(ctx context.Context, jobID int64, rows, chunks int) error {
	return r.set(ctx, jobID,
		"status", string(models.JobStatusProcessing),
		"rows", rows,
		"chunks", chunks,
		"chunks_done", 0,
		"rows_done", 0,
	)
}

func (r *RedisTracker) Chunk(ctx context.Context, jobID int64, chunksDone, rowsDone int) error {
	return r.set(ctx, jobID, "chunks_done", chunksDone, "rows_done", rowsDone)
}

func (r *RedisTracker) Finish(ctx context.Context, jobID int64, status models.JobStatus) error {
	return r.set(ctx, jobID, "status", string(status))
}

func (r *RedisTracker) set(ctx context.Context, jobID int64, values ...interface{}) error {
	key := progressKey(jobID)
	values = append(values, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to publish progress for job %d", jobID)
	}
	return nil
}

// Get reads the current snapshot for a job. redis.Nil is returned when the
// job has no progress recorded.
func (r *RedisTracker) Get(ctx context.Context, jobID int64) (*Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, progressKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	snap := &Snapshot{Status: models.JobStatus(fields["status"])}
	snap.Rows, _ = strconv.Atoi(fields["rows"])
	snap.Chunks, _ = strconv.Atoi(fields["chunks"])
	snap.ChunksDone, _ = strconv.Atoi(fields["chunks_done"])
	snap.RowsDone, _ = strconv.Atoi(fields["rows_done"])
	snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return snap, nil
}

// LogTracker writes progress to the context logger only.
type LogTracker struct{}

func (LogTracker) Start(ctx context.Context, jobID int64, rows, chunks int) error {
	log.GetCtxLogger(ctx).WithFields(logrus.Fields{"rows": rows, "chunks": chunks}).Info("Bulk job started")
	return nil
}

func (LogTracker) Chunk(ctx context.Context, jobID int64, chunksDone, rowsDone int) error {
	log.GetCtxLogger(ctx).WithFields(logrus.Fields{"chunks_done": chunksDone, "rows_done": rowsDone}).
		Info("Bulk job chunk complete")
	return nil
}

func (LogTracker) Finish(ctx context.Context, jobID int64, status models.JobStatus) error {
	log.GetCtxLogger(ctx).WithField("status", status).Info("Bulk job finished")
	return nil
}

func (r *RedisTracker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
