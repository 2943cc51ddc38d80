package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/ledgerly/servicing-app/bulkworker/progress"
	"github.com/ledgerly/servicing-app/bulkworker/queueing"
	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/database"
	"github.com/ledgerly/servicing-app/servicing/monitoring"
)

const Name = "bulkworker"
const Usage = "Servicing bulk action worker CLI"

// Migration tables for the application and queue schemas.
const (
	servicingMigrationsTable = "schema_migrations"
	queueMigrationsTable     = "queue_schema_migrations"
)

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Before = func(c *cli.Context) error {
		log.SetupLoggers()
		return nil
	}

	var jobID int64
	var migrationsDir string
	app.Commands = []cli.Command{
		{
			Name:  "start-worker",
			Usage: "Start the worker",
			Action: func(c *cli.Context) error {
				return startWorker()
			},
		},
		{
			Name:  "process-job",
			Usage: "Process a single bulk job without going through the queue",
			Flags: []cli.Flag{
				cli.Int64Flag{
					Name:        "id",
					Usage:       "ID of the bulk job",
					Destination: &jobID,
				},
			},
			Action: func(c *cli.Context) error {
				if jobID <= 0 {
					return errors.New("id is required")
				}
				return processJob(c.App, jobID)
			},
		},
		{
			Name:  "enqueue-job",
			Usage: "Add a bulk job to the worker queue",
			Flags: []cli.Flag{
				cli.Int64Flag{
					Name:        "id",
					Usage:       "ID of the bulk job",
					Destination: &jobID,
				},
			},
			Action: func(c *cli.Context) error {
				if jobID <= 0 {
					return errors.New("id is required")
				}
				return enqueueJob(c.App, jobID)
			},
		},
		{
			Name:  "migrate",
			Usage: "Apply database migrations",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "dir",
					Usage:       "Directory holding the servicing and servicing_queue migrations",
					Value:       "db/migrations",
					Destination: &migrationsDir,
				},
			},
			Action: func(c *cli.Context) error {
				return migrate(migrationsDir)
			},
		},
		{
			Name:  "health",
			Usage: "Check the worker health",
			Action: func(c *cli.Context) error {
				d, err := connect(context.Background())
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				defer d.close()
				d.tracker = progress.New(d.cfg.Progress)

				if !checkHealth(d.healthChecker()) {
					return cli.NewExitError("Worker is unhealthy", 1)
				}
				return nil
			},
		},
	}
	return app
}

func startWorker() error {
	fmt.Println("Starting bulkworker...")

	d, err := wire(context.Background())
	if err != nil {
		return err
	}
	defer d.close()

	queue := queueing.StartQue(log.Worker, d.queueDB, d.worker, d.sampler, d.cfg.Queue, d.cfg.WorkerPoolSize)
	defer queue.StopQue()

	if d.cfg.HealthIntervalSec > 0 {
		quit := make(chan struct{})
		defer close(quit)
		go logHealth(d.healthChecker(), time.Duration(d.cfg.HealthIntervalSec)*time.Second, quit)
	}

	waitForSig()
	return nil
}

func processJob(app *cli.App, jobID int64) error {
	d, err := wire(context.Background())
	if err != nil {
		return err
	}
	defer d.close()

	timer := monitoring.GetTimer()
	defer timer.Close()

	ctx := monitoring.NewContext(context.Background(), timer)
	ctx = log.NewStructuredLoggerEntry(log.Worker, ctx)
	job, err := d.worker.ProcessJob(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Writer, "job %d %s\n", job.ID, job.Status)
	if job.OutputURL != "" {
		fmt.Fprintf(app.Writer, "%s\n", job.OutputURL)
	}
	return nil
}

func enqueueJob(app *cli.App, jobID int64) error {
	dbCfg, err := database.LoadConfig()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool, err := queueing.NewQueuePool(dbCfg.QueueDatabaseURL, cfg.QueueMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := queueing.NewEnqueuer(pool).AddJob(context.Background(), jobID); err != nil {
		return err
	}
	fmt.Fprintf(app.Writer, "enqueued job %d\n", jobID)
	return nil
}

func migrate(dir string) error {
	dbCfg, err := database.LoadConfig()
	if err != nil {
		return err
	}

	if err := database.Migrate(dbCfg.DatabaseURL, filepath.Join(dir, "servicing"), servicingMigrationsTable); err != nil {
		return err
	}
	return database.Migrate(dbCfg.QueueDatabaseURL, filepath.Join(dir, "servicing_queue"), queueMigrationsTable)
}

func waitForSig() {
	signalChan := make(chan os.Signal, 1)
	defer signal.Stop(signalChan)

	signal.Notify(signalChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	s := <-signalChan
	log.Worker.Infof("Received %s, shutting down", s)
}
