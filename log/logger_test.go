package log

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ledgerly/servicing-app/conf"
	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoggers verifies that all of our loggers are set up
// with the expected parameters and write to the expected files.
func TestLoggers(t *testing.T) {
	env := uuid.New()
	oldEnv := conf.GetEnv("DEPLOYMENT_TARGET")
	conf.SetEnv(t, "DEPLOYMENT_TARGET", env)
	t.Cleanup(func() { conf.SetEnv(t, "DEPLOYMENT_TARGET", oldEnv) })

	tests := []struct {
		logEnv      string
		logSupplier func() logrus.FieldLogger
	}{
		{"SERVICING_WORKER_LOG", func() logrus.FieldLogger { return Worker }},
		{"SERVICING_ACCOUNT_API_LOG", func() logrus.FieldLogger { return AccountAPI }},
		{"WORKER_HEALTH_LOG", func() logrus.FieldLogger { return Health }},
	}
	for _, tt := range tests {
		t.Run(tt.logEnv, func(t *testing.T) {
			logFile, err := os.CreateTemp("", "*")
			require.NoError(t, err)
			old := conf.GetEnv(tt.logEnv)
			t.Cleanup(func() {
				assert.NoError(t, os.Remove(logFile.Name()))
				assert.NoError(t, conf.SetEnv(t, tt.logEnv, old))
				SetupLoggers()
			})

			conf.SetEnv(t, tt.logEnv, logFile.Name())
			SetupLoggers()

			msg := uuid.New()
			tt.logSupplier().Info(msg)

			data, err := io.ReadAll(logFile)
			require.NoError(t, err)
			res := strings.Split(string(data), "\n")
			// msg + new line
			assert.Len(t, res, 2)

			var fields logrus.Fields
			require.NoError(t, json.Unmarshal([]byte(res[0]), &fields))
			assert.Equal(t, "worker", fields["application"])
			assert.Equal(t, env, fields["environment"])
			assert.Equal(t, "servicing", fields["source_app"])
			assert.Equal(t, msg, fields["msg"])
			_, err = time.Parse(time.RFC3339Nano, fields["time"].(string))
			assert.NoError(t, err)
		})
	}
}

func TestSetCtxLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := NewStructuredLoggerEntry(logger, context.Background())
	ctx, _ = SetCtxLogger(ctx, "job_id", int64(42))
	ctx, l := SetCtxLogger(ctx, "action_code", "FRAUD_BLOCK")

	l.Info("first")
	assert.Equal(t, "first", hook.LastEntry().Message)
	assert.Equal(t, int64(42), hook.LastEntry().Data["job_id"])
	assert.Equal(t, "FRAUD_BLOCK", hook.LastEntry().Data["action_code"])

	GetCtxLogger(ctx).Warn("second")
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, int64(42), hook.LastEntry().Data["job_id"])
}

func TestGetCtxLoggerDefault(t *testing.T) {
	assert.Equal(t, Worker, GetCtxLogger(context.Background()))
}

func TestWriteWithFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := NewStructuredLoggerEntry(logger, context.Background())

	resultCtx, resultLogger := WriteErrorWithFields(ctx, "test-msg", logrus.Fields{"key1": "val1", "key2": "val2"})
	entry := hook.LastEntry()
	assert.Equal(t, "test-msg", entry.Message)
	assert.Equal(t, "val1", entry.Data["key1"])
	assert.Equal(t, "val2", entry.Data["key2"])
	assert.Equal(t, logrus.ErrorLevel, entry.Level)

	// verify logger retains fields
	resultLogger.Error("new-test")
	assert.Equal(t, "val1", hook.LastEntry().Data["key1"])

	// verify logger set in ctx retains fields
	_, _ = WriteInfoWithFields(resultCtx, "info-msg", logrus.Fields{"key3": "val3"})
	entry = hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "val1", entry.Data["key1"])
	assert.Equal(t, "val3", entry.Data["key3"])
}
