package database

import (
	goerrors "errors"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	// migrate drivers
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"

	"github.com/ledgerly/servicing-app/log"
)

// Migrate applies every pending migration in dir to the database at dsn,
// tracking versions in migrationsTable.
func Migrate(dsn, dir, migrationsTable string) error {
	target, err := withMigrationsTable(dsn, migrationsTable)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+dir, target)
	if err != nil {
		return errors.Wrapf(err, "failed to load migrations from %s", dir)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if goerrors.Is(err, migrate.ErrNoChange) {
			log.Worker.Infof("No migrations to apply from %s", dir)
			return nil
		}
		return errors.Wrap(err, "failed to apply migrations")
	}

	version, _, _ := m.Version()
	log.Worker.Infof("Migrated %s to version %d", migrationsTable, version)
	return nil
}

func withMigrationsTable(dsn, table string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "invalid database url")
	}
	if table == "" {
		return dsn, nil
	}
	q := u.Query()
	q.Set("x-migrations-table", table)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
