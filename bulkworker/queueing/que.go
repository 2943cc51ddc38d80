package queueing

import (
	"context"
	"encoding/json"
	goerrors "errors"

	"github.com/bgentry/que-go"
	"github.com/jackc/pgx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/worker"
	"github.com/ledgerly/servicing-app/log"
	servicingaws "github.com/ledgerly/servicing-app/servicing/aws"
	"github.com/ledgerly/servicing-app/servicing/constants"
	"github.com/ledgerly/servicing-app/servicing/monitoring"
)

// JobEnqueueArgs is the payload of a ProcessBulkJob que job.
type JobEnqueueArgs struct {
	ID int64 `json:"id"`
}

type Config struct {
	// MaxNotFoundRetries bounds how often a job that is not (yet) visible
	// in the database is retried before it is dropped.
	MaxNotFoundRetries int32  `conf:"SERVICING_WORKER_MAX_JOB_NOT_FOUND_RETRIES" conf_default:"3"`
	Environment        string `conf:"DEPLOYMENT_TARGET"`
}

type Queue struct {
	worker  worker.Worker
	log     logrus.FieldLogger
	timer   monitoring.Timer
	sampler worker.Sampler
	cfg     Config

	queDB   *pgx.ConnPool
	quePool *que.WorkerPool
}

// NewQueuePool connects to the queue database with the statements que-go
// needs prepared on every connection.
func NewQueuePool(databaseURL string, maxConns int) (*pgx.ConnPool, error) {
	pgxcfg, err := pgx.ParseURI(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid queue database url")
	}
	pool, err := pgx.NewConnPool(pgx.ConnPoolConfig{
		ConnConfig:     pgxcfg,
		MaxConnections: maxConns,
		AfterConnect:   que.PrepareStatements,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to queue database")
	}
	return pool, nil
}

// StartQue creates a que-go client and begins listening for bulk jobs.
// It returns immediately since the workers run in their own goroutines.
func StartQue(logger logrus.FieldLogger, queDB *pgx.ConnPool, w worker.Worker, sampler worker.Sampler,
	cfg Config, numWorkers int) *Queue {

	q := &Queue{
		worker:  w,
		log:     logger,
		timer:   monitoring.GetTimer(),
		sampler: sampler,
		cfg:     cfg,
		queDB:   queDB,
	}

	qc := que.NewClient(queDB)
	wm := que.WorkMap{
		constants.QueProcessBulkJob: q.processJob,
	}
	q.quePool = que.NewWorkerPool(qc, wm, numWorkers)
	q.quePool.Start()

	logger.Infof("Started que worker pool with %d workers", numWorkers)
	return q
}

// StopQue cleans up any resources created
func (q *Queue) StopQue() {
	q.quePool.Shutdown()
	q.queDB.Close()
	q.timer.Close()
}

func (q *Queue) processJob(queJob *que.Job) error {
	defer q.updateJobQueueCountCloudwatchMetric()

	var args JobEnqueueArgs
	if err := json.Unmarshal(queJob.Args, &args); err != nil {
		// ACK the job because retrying it won't help us be able to deserialize the data
		q.log.Warnf("Failed to deserialize job.Args '%s' %s. Removing queuejob from que.", queJob.Args, err)
		return nil
	}

	ctx := monitoring.NewContext(context.Background(), q.timer)
	ctx = log.NewStructuredLoggerEntry(q.log, ctx)
	ctx, logger := log.SetCtxLogger(ctx, "que_job_id", queJob.ID)

	job, err := q.worker.ProcessJob(ctx, args.ID)
	switch {
	case err == nil:
		logger.Infof("Bulk job %d is %s", job.ID, job.Status)
		return nil
	case goerrors.Is(err, repository.ErrJobNotFound):
		if queJob.ErrorCount >= q.cfg.MaxNotFoundRetries {
			logger.Errorf("Bulk job %d not found after %d attempts. Removing queuejob from que.", args.ID, queJob.ErrorCount+1)
			return nil
		}
		logger.Warnf("Bulk job %d not found, will retry", args.ID)
		return err
	case goerrors.Is(err, worker.ErrJobStuck):
		// a retry would find the job PROCESSING and leave it there
		logger.WithField("job_status", job.Status).
			Errorf("Bulk job %d is stuck and needs to be failed by hand: %s", args.ID, err)
		return nil
	case job != nil && job.Status.IsTerminal():
		// the job has been marked failed, a retry would return the same state
		logger.Errorf("Bulk job %d failed: %s", args.ID, err)
		return nil
	default:
		err = errors.Wrap(err, "failed to process job")
		logger.Error(err)
		return err
	}
}

func (q *Queue) updateJobQueueCountCloudwatchMetric() {
	if q.sampler == nil || q.queDB == nil || q.cfg.Environment == "" {
		return
	}

	var count int
	if err := q.queDB.QueryRow(`select count(*) from que_jobs;`).Scan(&count); err != nil {
		q.log.Error(err)
		return
	}

	err := q.sampler.PutSample("JobQueueCount", float64(count), []servicingaws.Dimension{
		{Name: "Environment", Value: q.cfg.Environment},
	})
	if err != nil {
		q.log.Error(err)
	}
}
