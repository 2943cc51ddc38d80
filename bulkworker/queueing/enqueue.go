package queueing

import (
	"context"
	"encoding/json"

	"github.com/bgentry/que-go"
	"github.com/jackc/pgx"
	"github.com/pkg/errors"

	"github.com/ledgerly/servicing-app/servicing/constants"
)

// Enqueuer only handles inserting job entries into the queue
type Enqueuer interface {
	AddJob(ctx context.Context, jobID int64) error
}

type queEnqueuer struct {
	*que.Client
}

func NewEnqueuer(pool *pgx.ConnPool) Enqueuer {
	return queEnqueuer{que.NewClient(pool)}
}

func (q queEnqueuer) AddJob(ctx context.Context, jobID int64) error {
	args, err := json.Marshal(JobEnqueueArgs{ID: jobID})
	if err != nil {
		return err
	}
	return errors.Wrapf(q.Enqueue(&que.Job{Type: constants.QueProcessBulkJob, Args: args}),
		"failed to enqueue bulk job %d", jobID)
}
