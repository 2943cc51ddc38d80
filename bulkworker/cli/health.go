package cli

import (
	"time"

	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/log"
	"github.com/ledgerly/servicing-app/servicing/health"
)

func checkHealth(healthChecker health.Checker) bool {
	entry := log.Health

	logFields := logrus.Fields{}
	logFields["type"] = "health"
	logFields["id"] = uuid.NewRandom()

	_, dbOk := healthChecker.IsDatabaseOK()
	if dbOk {
		logFields["db"] = "ok"
	} else {
		logFields["db"] = "error"
	}

	_, progressOk := healthChecker.IsProgressOK()
	if progressOk {
		logFields["progress"] = "ok"
	} else {
		logFields["progress"] = "error"
	}

	entry.WithFields(logFields).Info()
	return dbOk && progressOk
}

// logHealth checks health every interval until quit is closed.
func logHealth(healthChecker health.Checker, interval time.Duration, quit <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			checkHealth(healthChecker)
		case <-quit:
			return
		}
	}
}
