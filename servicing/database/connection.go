package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	// postgres driver
	_ "github.com/lib/pq"

	"github.com/ledgerly/servicing-app/log"
)

// Variable substitution to support testing.
var sqlOpen = sql.Open

// Connect opens the servicing database and waits for it to answer a ping,
// retrying with exponential backoff.
func Connect(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sqlOpen("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(cfg.PingBackoffMs) * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, cfg.PingRetries), ctx)

	notify := func(err error, wait time.Duration) {
		log.Worker.Warnf("Database not ready, retrying in %s: %s", wait, err)
	}
	if err := backoff.RetryNotify(func() error { return db.PingContext(ctx) }, b, notify); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to reach database")
	}
	return db, nil
}
