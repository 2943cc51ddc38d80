package log

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerly/servicing-app/conf"
	"github.com/sirupsen/logrus"
)

var (
	Worker     logrus.FieldLogger
	AccountAPI logrus.FieldLogger
	Health     logrus.FieldLogger
)

type ctxLoggerKeyType string

const CtxLoggerKey ctxLoggerKeyType = "ctx-logger"

func init() {
	SetupLoggers()
}

// SetupLoggers (re)builds the package loggers from the current configuration.
func SetupLoggers() {
	env := conf.GetEnv("DEPLOYMENT_TARGET")
	Worker = Logger(logrus.New(), conf.GetEnv("SERVICING_WORKER_LOG"), "worker", env)
	AccountAPI = Logger(logrus.New(), conf.GetEnv("SERVICING_ACCOUNT_API_LOG"), "worker", env)
	Health = Logger(logrus.New(), conf.GetEnv("WORKER_HEALTH_LOG"), "worker", env)
}

// Logger configures logger to emit JSON to outputFile (stderr when empty or
// not writable) and tags every entry with the application and environment.
func Logger(logger *logrus.Logger, outputFile string,
	application, environment string) logrus.FieldLogger {

	logger.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}

	if outputFile != "" {
		if file, err := os.OpenFile(filepath.Clean(outputFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			logger.SetOutput(file)
		} else {
			logger.Infof("Failed to open output file %s. Will use stderr. %s",
				outputFile, err.Error())
		}
	}

	return logger.WithFields(logrus.Fields{
		"application": application,
		"environment": environment,
		"source_app":  "servicing"})
}

// StructuredLoggerEntry carries a logger through a context.
type StructuredLoggerEntry struct {
	Logger logrus.FieldLogger
}

// NewStructuredLoggerEntry stores logger in a new context derived from ctx.
func NewStructuredLoggerEntry(logger logrus.FieldLogger, ctx context.Context) context.Context {
	return context.WithValue(ctx, CtxLoggerKey, &StructuredLoggerEntry{Logger: logger})
}

// SetCtxLogger adds a single field to the context logger.
func SetCtxLogger(ctx context.Context, key string, value interface{}) (context.Context, logrus.FieldLogger) {
	return SetLoggerFields(ctx, logrus.Fields{key: value})
}

// SetLoggerFields adds fields to the context logger and returns the updated
// context along with the logger.
func SetLoggerFields(ctx context.Context, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	entry, ok := ctx.Value(CtxLoggerKey).(*StructuredLoggerEntry)
	if !ok {
		entry = &StructuredLoggerEntry{Logger: Worker}
	}
	updated := &StructuredLoggerEntry{Logger: entry.Logger.WithFields(fields)}
	return context.WithValue(ctx, CtxLoggerKey, updated), updated.Logger
}

// GetCtxLogger returns the logger stored in ctx, or the worker logger.
func GetCtxLogger(ctx context.Context) logrus.FieldLogger {
	if entry, ok := ctx.Value(CtxLoggerKey).(*StructuredLoggerEntry); ok {
		return entry.Logger
	}
	return Worker
}

// WriteErrorWithFields logs msg at error level with fields and keeps the
// fields on the returned context logger.
func WriteErrorWithFields(ctx context.Context, msg string, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	ctx, logger := SetLoggerFields(ctx, fields)
	logger.Error(msg)
	return ctx, logger
}

// WriteInfoWithFields is the info level counterpart of WriteErrorWithFields.
func WriteInfoWithFields(ctx context.Context, msg string, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	ctx, logger := SetLoggerFields(ctx, fields)
	logger.Info(msg)
	return ctx, logger
}
