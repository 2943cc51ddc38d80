package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/ledgerly/servicing-app/log"
)

const pingTimeout = 5 * time.Second

// Pinger is implemented by dependencies that can report their own liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Checker interface {
	IsDatabaseOK() (string, bool)
	IsProgressOK() (string, bool)
}

type HealthChecker struct {
	db       *sql.DB
	progress Pinger
}

// NewHealthChecker checks db and, when progress is non-nil, the progress
// store.
func NewHealthChecker(db *sql.DB, progress Pinger) HealthChecker {
	return HealthChecker{db: db, progress: progress}
}

func (h HealthChecker) IsDatabaseOK() (result string, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		log.Health.Error("Health check: database ping error: ", err.Error())
		return "database ping error", false
	}
	return "ok", true
}

func (h HealthChecker) IsProgressOK() (result string, ok bool) {
	if h.progress == nil {
		return "not configured", true
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := h.progress.Ping(ctx); err != nil {
		log.Health.Error("Health check: progress store ping error: ", err.Error())
		return "progress store ping error", false
	}
	return "ok", true
}
