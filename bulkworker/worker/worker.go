package worker

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/bulkworker/actions"
	"github.com/ledgerly/servicing-app/bulkworker/progress"
	"github.com/ledgerly/servicing-app/bulkworker/report"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/worker/utils"
	"github.com/ledgerly/servicing-app/log"
	servicingaws "github.com/ledgerly/servicing-app/servicing/aws"
	"github.com/ledgerly/servicing-app/servicing/models"
	"github.com/ledgerly/servicing-app/servicing/monitoring"
	"github.com/ledgerly/servicing-app/servicing/storage"
)

type Worker interface {
	// ProcessJob runs a PENDING job to COMPLETED or FAILED. Jobs in any other
	// state are returned unchanged.
	ProcessJob(ctx context.Context, jobID int64) (*models.BulkJob, error)
}

type Config struct {
	ChunkSize        int    `conf:"BULK_CHUNK_SIZE" conf_default:"500"`
	MaxInputRows     int    `conf:"BULK_MAX_INPUT_ROWS" conf_default:"10000"`
	MaxFileSizeBytes int64  `conf:"BULK_MAX_FILE_SIZE_BYTES" conf_default:"1048576"`
	OutputDelimiter  string `conf:"BULK_OUTPUT_DELIMITER" conf_default:","`
	OutputPrefix     string `conf:"BULK_OUTPUT_PREFIX" conf_default:"bulk-jobs/output"`
	URLExpiryMin     int    `conf:"BULK_OUTPUT_URL_EXPIRY_MIN" conf_default:"60"`
	Environment      string `conf:"DEPLOYMENT_TARGET" conf_default:"local"`
	// Attempts to record a failure before the job is reported stuck.
	FailRetries   uint64 `conf:"BULK_FAIL_STATUS_RETRIES" conf_default:"3"`
	FailBackoffMs int    `conf:"BULK_FAIL_STATUS_BACKOFF_MS" conf_default:"200"`
}

type Dispatcher interface {
	Handler(code models.ActionCode) (actions.Handler, bool)
	Handle(ctx context.Context, batch actions.Batch) ([]models.JobOutputRow, error)
}

type Sampler interface {
	PutSample(name string, value float64, dimensions []servicingaws.Dimension) error
}

type worker struct {
	r       repository.Repository
	d       Dispatcher
	store   storage.BlobStore
	tracker progress.Tracker
	sampler Sampler
	cfg     Config
}

// NewWorker wires a worker. sampler may be nil when metrics are not published.
func NewWorker(r repository.Repository, d Dispatcher, store storage.BlobStore, tracker progress.Tracker,
	sampler Sampler, cfg Config) Worker {
	return &worker{r: r, d: d, store: store, tracker: tracker, sampler: sampler, cfg: cfg}
}

func (w *worker) ProcessJob(ctx context.Context, jobID int64) (*models.BulkJob, error) {
	job, err := w.r.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "could not retrieve job from database")
	}

	ctx, logger := log.SetLoggerFields(ctx, logrus.Fields{"job_id": job.ID, "action_code": job.ActionCode})

	if job.Status != models.JobStatusPending {
		logger.Infof("Job is %s, nothing to process", job.Status)
		return w.current(ctx, job)
	}

	err = w.r.UpdateJobStatusCheckStatus(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	if goerrors.Is(err, repository.ErrJobNotUpdated) {
		logger.Warn("Job was claimed by another worker. Returning its current state.")
		if job, err = w.r.GetJobByID(ctx, jobID); err != nil {
			return nil, errors.Wrap(err, "could not reload job from database")
		}
		return w.current(ctx, job)
	} else if err != nil {
		return nil, errors.Wrap(err, "could not update job status in database")
	}
	job.Status = models.JobStatusProcessing

	ctx, end := monitoring.NewParent(ctx, "ProcessBulkJob")
	defer end()

	start := time.Now()
	ref, rows, err := w.run(ctx, job)
	if err == nil {
		if err = w.r.CompleteJob(ctx, job.ID, ref); err != nil {
			w.discard(ctx, ref)
			err = errors.Wrap(err, "could not mark job completed")
		}
	}
	if err != nil {
		return job, w.fail(ctx, job, err)
	}

	job.Status = models.JobStatusCompleted
	job.OutputFile = ref
	w.finish(ctx, job, rows, time.Since(start))

	if _, err := w.current(ctx, job); err != nil {
		logger.Warnf("Job completed but its output url could not be resolved: %s", err)
	}
	return job, nil
}

// run processes every chunk and publishes the report. Nothing is uploaded
// unless every chunk succeeded.
func (w *worker) run(ctx context.Context, job *models.BulkJob) (string, []models.JobOutputRow, error) {
	action, err := w.r.GetActionRecordByID(ctx, job.ActionRecordID)
	if err != nil {
		return "", nil, errors.Wrap(err, "could not retrieve action record")
	}

	ids, err := w.loadInput(ctx, job)
	if err != nil {
		return "", nil, err
	}

	delimiter, err := report.ParseDelimiter(w.cfg.OutputDelimiter)
	if err != nil {
		return "", nil, err
	}

	chunks := utils.Chunk(ids, w.cfg.ChunkSize)
	w.progress(ctx, func() error { return w.tracker.Start(ctx, job.ID, len(ids), len(chunks)) })

	handler, _ := w.d.Handler(job.ActionCode)
	staged, isStaged := handler.(actions.StagedHandler)

	var rows []models.JobOutputRow
	var pending []actions.Staged
	done := 0
	for i, chunk := range chunks {
		chunkCtx, logger := log.SetCtxLogger(ctx, "chunk", i+1)
		batch := actions.Batch{Job: job, Action: action, IDs: chunk}

		endChunk := monitoring.NewChild(chunkCtx, "processChunk")
		if isStaged {
			var s actions.Staged
			if s, err = staged.Stage(chunkCtx, batch); err == nil {
				pending = append(pending, s)
			}
		} else {
			var out []models.JobOutputRow
			if out, err = w.d.Handle(chunkCtx, batch); err == nil {
				rows = append(rows, out...)
			}
		}
		endChunk()
		if err != nil {
			return "", nil, errors.Wrapf(err, "chunk %d of %d failed", i+1, len(chunks))
		}

		done += len(chunk)
		logger.Infof("Processed chunk of %d accounts", len(chunk))
		w.progress(ctx, func() error { return w.tracker.Chunk(ctx, job.ID, i+1, done) })
	}

	if isStaged {
		endCommit := monitoring.NewChild(ctx, "commitRules")
		rows, err = staged.Commit(ctx, job, action, pending)
		endCommit()
		if err != nil {
			return "", nil, err
		}
	}
	rows = report.Merge(rows)

	var buf bytes.Buffer
	meta := report.Meta{ActionCode: job.ActionCode, ReasonCode: action.ReasonCode}
	if err := report.WriteCSV(&buf, rows, meta, delimiter); err != nil {
		return "", nil, err
	}

	key := path.Join(w.cfg.OutputPrefix, fmt.Sprintf("%d", job.ID), uuid.New()+".csv")
	endUpload := monitoring.NewChild(ctx, "uploadReport")
	ref, err := w.store.Upload(ctx, key, buf.Bytes())
	endUpload()
	if err != nil {
		return "", nil, errors.Wrap(err, "could not upload report")
	}
	return ref, rows, nil
}

func (w *worker) loadInput(ctx context.Context, job *models.BulkJob) ([]int64, error) {
	body, err := w.store.Download(ctx, job.InputFile, w.cfg.MaxFileSizeBytes)
	if err != nil {
		return nil, errors.Wrap(err, "could not download input")
	}

	ids, err := ParseInput(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if w.cfg.MaxInputRows > 0 && len(ids) > w.cfg.MaxInputRows {
		return nil, errors.Wrapf(ErrTooManyRows, "%d rows, limit %d", len(ids), w.cfg.MaxInputRows)
	}

	if err := w.r.UpdateJobRowCount(ctx, job.ID, len(ids)); err != nil {
		return nil, errors.Wrap(err, "could not record row count")
	}
	job.RowCount = len(ids)
	return ids, nil
}

// current returns the job as stored, minting a fresh output URL for a
// completed job.
func (w *worker) current(ctx context.Context, job *models.BulkJob) (*models.BulkJob, error) {
	if job.Status != models.JobStatusCompleted || job.OutputFile == "" {
		return job, nil
	}
	url, err := w.store.URL(ctx, job.OutputFile, time.Duration(w.cfg.URLExpiryMin)*time.Minute)
	if err != nil {
		return job, errors.Wrap(err, "could not resolve output url")
	}
	job.OutputURL = url
	return job, nil
}

// fail marks the job FAILED and returns the error ProcessJob reports. When the
// status write keeps failing the job is left PROCESSING, where no worker will
// pick it up again, and the returned error wraps ErrJobStuck.
func (w *worker) fail(ctx context.Context, job *models.BulkJob, cause error) error {
	logger := log.GetCtxLogger(ctx)
	logger.Errorf("Job failed: %s", cause)
	job.OutputFile = ""

	err := w.markFailed(ctx, job.ID)
	switch {
	case err == nil:
		job.Status = models.JobStatusFailed
	case goerrors.Is(err, repository.ErrJobNotUpdated):
		logger.Warn("Job left PROCESSING before it could be marked failed")
	default:
		logger.Errorf("Could not mark job failed, it remains %s: %s", job.Status, err)
		w.sample(ctx, job, "BulkJobStuck", 1)
		cause = errors.Wrapf(ErrJobStuck, "%s (marking failed: %s)", cause, err)
	}

	w.progress(ctx, func() error { return w.tracker.Finish(ctx, job.ID, models.JobStatusFailed) })
	w.sample(ctx, job, "BulkJobFailed", 1)
	return cause
}

func (w *worker) markFailed(ctx context.Context, jobID int64) error {
	op := func() error {
		err := w.r.UpdateJobStatusCheckStatus(ctx, jobID, models.JobStatusProcessing, models.JobStatusFailed)
		if goerrors.Is(err, repository.ErrJobNotUpdated) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(w.cfg.FailBackoffMs) * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, w.cfg.FailRetries), ctx))
}

// discard removes a report that was uploaded for a job that never completed.
func (w *worker) discard(ctx context.Context, ref string) {
	logger := log.GetCtxLogger(ctx)
	if err := w.store.Delete(ctx, ref); err != nil {
		logger.WithField("output_file", ref).Errorf("Could not delete orphaned report: %s", err)
		return
	}
	logger.WithField("output_file", ref).Info("Deleted report of uncompleted job")
}

func (w *worker) finish(ctx context.Context, job *models.BulkJob, rows []models.JobOutputRow, elapsed time.Duration) {
	errored := 0
	for _, row := range rows {
		if row.Error != "" {
			errored++
		}
	}
	log.GetCtxLogger(ctx).WithFields(logrus.Fields{"rows": len(rows), "error_rows": errored}).
		Infof("Job completed in %s", elapsed)

	w.progress(ctx, func() error { return w.tracker.Finish(ctx, job.ID, models.JobStatusCompleted) })
	w.sample(ctx, job, "BulkJobRows", float64(len(rows)))
	w.sample(ctx, job, "BulkJobErrorRows", float64(errored))
	w.sample(ctx, job, "BulkJobDurationSeconds", elapsed.Seconds())
}

// progress reporting never fails a job
func (w *worker) progress(ctx context.Context, publish func() error) {
	if err := publish(); err != nil {
		log.GetCtxLogger(ctx).Warnf("Failed to publish progress: %s", err)
	}
}

func (w *worker) sample(ctx context.Context, job *models.BulkJob, name string, value float64) {
	if w.sampler == nil {
		return
	}
	dims := []servicingaws.Dimension{
		{Name: "Environment", Value: w.cfg.Environment},
		{Name: "ActionCode", Value: string(job.ActionCode)},
	}
	if err := w.sampler.PutSample(name, value, dims); err != nil {
		log.GetCtxLogger(ctx).Warnf("Failed to send %s metric: %s", name, err)
	}
}

type JobError struct {
	msg string
}

func (e JobError) Error() string {
	return e.msg
}

var (
	ErrInvalidInput = JobError{"input is not a list of account ids"}
	ErrTooManyRows  = JobError{"input exceeds the maximum number of rows"}
	ErrJobStuck     = JobError{"job could not be moved out of PROCESSING"}
)
