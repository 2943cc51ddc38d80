package health

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerly/servicing-app/bulkworker/progress"
)

func TestIsDatabaseOK(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	h := NewHealthChecker(db, nil)

	mock.ExpectPing()
	result, ok := h.IsDatabaseOK()
	assert.True(t, ok)
	assert.Equal(t, "ok", result)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	result, ok = h.IsDatabaseOK()
	assert.False(t, ok)
	assert.Equal(t, "database ping error", result)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsProgressOK(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker(nil, progress.NewRedisTracker(client, time.Hour))
	_, ok := h.IsProgressOK()
	assert.True(t, ok)

	mr.Close()
	result, ok := h.IsProgressOK()
	assert.False(t, ok)
	assert.Equal(t, "progress store ping error", result)
}

func TestIsProgressOKNotConfigured(t *testing.T) {
	result, ok := NewHealthChecker(nil, nil).IsProgressOK()
	assert.True(t, ok)
	assert.Equal(t, "not configured", result)
}
