package database

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/conf"
	"github.com/ledgerly/servicing-app/log"
)

// Config holds the connection settings of the servicing database and of the
// database backing the job queue. Both may point at the same instance.
type Config struct {
	DatabaseURL      string `conf:"DATABASE_URL"`
	QueueDatabaseURL string `conf:"QUEUE_DATABASE_URL"`

	MaxOpenConns       int `conf:"SERVICING_DB_MAX_OPEN_CONNS" conf_default:"20"`
	MaxIdleConns       int `conf:"SERVICING_DB_MAX_IDLE_CONNS" conf_default:"10"`
	ConnMaxLifetimeMin int `conf:"SERVICING_DB_CONN_MAX_LIFETIME_MIN" conf_default:"5"`

	// Connect pings up to PingRetries more times before giving up.
	PingRetries   uint64 `conf:"SERVICING_DB_PING_RETRIES" conf_default:"5"`
	PingBackoffMs int    `conf:"SERVICING_DB_PING_BACKOFF_MS" conf_default:"500"`
}

// LoadConfig reads Config from the environment. Both urls must be postgres
// urls: the queue pool and the migrator parse them as such.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := conf.Checkout(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read database config")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	log.Worker.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("Loaded database config")
	return &cfg, nil
}

func (c *Config) validate() error {
	urls := []struct{ name, value string }{
		{"DatabaseURL", c.DatabaseURL},
		{"QueueDatabaseURL", c.QueueDatabaseURL},
	}
	for _, u := range urls {
		if u.value == "" {
			return errors.Errorf("%s must be set", u.name)
		}
		if _, err := pq.ParseURL(u.value); err != nil {
			return errors.Wrapf(err, "%s is not a postgres url", u.name)
		}
	}

	// database/sql treats MaxOpenConns <= 0 as unlimited
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return errors.Errorf("SERVICING_DB_MAX_IDLE_CONNS (%d) exceeds SERVICING_DB_MAX_OPEN_CONNS (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}
