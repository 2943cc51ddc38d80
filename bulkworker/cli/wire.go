package cli

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx"
	"github.com/pkg/errors"

	"github.com/ledgerly/servicing-app/bulkworker/actions"
	"github.com/ledgerly/servicing-app/bulkworker/progress"
	"github.com/ledgerly/servicing-app/bulkworker/queueing"
	"github.com/ledgerly/servicing-app/bulkworker/repository/postgres"
	"github.com/ledgerly/servicing-app/bulkworker/worker"
	"github.com/ledgerly/servicing-app/conf"
	"github.com/ledgerly/servicing-app/log"
	servicingaws "github.com/ledgerly/servicing-app/servicing/aws"
	"github.com/ledgerly/servicing-app/servicing/client"
	"github.com/ledgerly/servicing-app/servicing/constants"
	"github.com/ledgerly/servicing-app/servicing/database"
	"github.com/ledgerly/servicing-app/servicing/health"
	"github.com/ledgerly/servicing-app/servicing/storage"
)

type Config struct {
	WorkerPoolSize    int  `conf:"WORKER_POOL_SIZE" conf_default:"4"`
	QueueMaxConns     int  `conf:"QUEUE_DB_MAX_CONNS" conf_default:"10"`
	HealthIntervalSec int  `conf:"WORKER_HEALTH_INT_SEC"`
	CloudWatchEnabled bool `conf:"SERVICING_CLOUDWATCH_ENABLED"`

	Queue      queueing.Config
	Worker     worker.Config
	Actions    actions.Config
	Storage    storage.Config
	AccountAPI client.Config
	Progress   progress.Config
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dependencies holds everything a running worker needs. close releases
// whatever was opened.
type dependencies struct {
	cfg     *Config
	dbCfg   *database.Config
	db      *sql.DB
	queueDB *pgx.ConnPool
	sampler worker.Sampler
	tracker progress.Tracker
	worker  worker.Worker
}

func (d *dependencies) healthChecker() health.Checker {
	var pinger health.Pinger
	if p, ok := d.tracker.(health.Pinger); ok {
		pinger = p
	}
	return health.NewHealthChecker(d.db, pinger)
}

func (d *dependencies) close() {
	if d.queueDB != nil {
		d.queueDB.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

func connect(ctx context.Context) (*dependencies, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dbCfg, err := database.LoadConfig()
	if err != nil {
		return nil, err
	}

	d := &dependencies{cfg: cfg, dbCfg: dbCfg}
	if d.db, err = database.Connect(ctx, dbCfg); err != nil {
		return nil, err
	}
	return d, nil
}

// wire builds the worker on top of a database connection along with the
// queue pool it listens on.
func wire(ctx context.Context) (*dependencies, error) {
	d, err := connect(ctx)
	if err != nil {
		return nil, err
	}

	if err := d.build(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *dependencies) build() (err error) {
	cfg := d.cfg

	if d.queueDB, err = queueing.NewQueuePool(d.dbCfg.QueueDatabaseURL, cfg.QueueMaxConns); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to open blob storage")
	}

	api, err := client.NewAccountAPIClient(cfg.AccountAPI)
	if err != nil {
		return errors.Wrap(err, "failed to create account api client")
	}

	if cfg.CloudWatchEnabled {
		sess, err := servicingaws.NewSession(cfg.Storage.RoleArn, cfg.Storage.Endpoint)
		if err != nil {
			return errors.Wrap(err, "failed to create aws session for metrics")
		}
		d.sampler = servicingaws.NewSampler(sess, constants.MetricNamespace, "Count")
	} else {
		log.Worker.Info("CloudWatch metrics disabled")
	}

	d.tracker = progress.New(cfg.Progress)

	repo := postgres.NewRepository(d.db)
	dispatcher := actions.NewDispatcher(repo, postgres.NewTxRunner(d.db), api, cfg.Actions)
	d.worker = worker.NewWorker(repo, dispatcher, store, d.tracker, d.sampler, cfg.Worker)
	return nil
}
