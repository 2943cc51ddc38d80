// Package monitoring times bulk job work as New Relic transactions and
// segments. Without a reachable New Relic account every call is a no-op.
//
// Typical usage:
//
//	timer := monitoring.GetTimer()
//	defer timer.Close()
//	ctx = monitoring.NewContext(ctx, timer)
//	ctx, end := monitoring.NewParent(ctx, "ProcessBulkJob")
//	defer end()
//	endChunk := monitoring.NewChild(ctx, "chunk")
//	endChunk()
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/conf"
	"github.com/ledgerly/servicing-app/log"
)

type Timer interface {
	new(parentCtx context.Context, name string) (ctx context.Context, end func())
	newChild(parentCtx context.Context, name string) (end func())
	// Close flushes pending data and shuts the agent down.
	Close()
}

type key int

const timerKey key = 0

type Config struct {
	License           string `conf:"NEW_RELIC_LICENSE_KEY"`
	Target            string `conf:"DEPLOYMENT_TARGET" conf_default:"local"`
	ConnectTimeoutSec int    `conf:"NEW_RELIC_CONNECTION_TIMEOUT_SECONDS" conf_default:"30"`
}

func NewContext(ctx context.Context, t Timer) context.Context {
	return context.WithValue(ctx, timerKey, t)
}

// NewParent starts a transaction and embeds it into the returned context.
func NewParent(ctx context.Context, name string) (context.Context, func()) {
	return fromContext(ctx).new(ctx, name)
}

// NewChild starts a segment under the transaction found in ctx.
func NewChild(ctx context.Context, name string) func() {
	return fromContext(ctx).newChild(ctx, name)
}

var defaultTimer = &noopTimer{}

func fromContext(ctx context.Context) Timer {
	t, ok := ctx.Value(timerKey).(Timer)
	if !ok {
		return defaultTimer
	}
	return t
}

func GetTimer() Timer {
	cfg := Config{}
	if err := conf.Checkout(&cfg); err != nil {
		log.Worker.Warnf("Failed to load New Relic config. Default to no-op timer. %s", err)
		return defaultTimer
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(fmt.Sprintf("Servicing-Worker-%s", cfg.Target)),
		newrelic.ConfigLicense(cfg.License),
		newrelic.ConfigEnabled(true),
		nrlogrus.ConfigStandardLogger(),
		func(c *newrelic.Config) {
			c.HighSecurity = true
		},
	)
	if err != nil {
		log.Worker.Warnf("Failed to instantiate New Relic application. Default to no-op timer. %s", err)
		return defaultTimer
	}

	timeout := time.Duration(cfg.ConnectTimeoutSec) * time.Second
	if err = app.WaitForConnection(timeout); err != nil {
		log.Worker.Warnf("Failed to establish connection to New Relic server in %s. Default to no-op timer.", timeout)
		return defaultTimer
	}

	log.Worker.Info("Using New Relic backed timer.")
	return &timer{nr: app, logger: log.Worker}
}

var _ Timer = &timer{}

type timer struct {
	nr     *newrelic.Application
	logger logrus.FieldLogger
}

func (t *timer) new(parentCtx context.Context, name string) (context.Context, func()) {
	txn := t.nr.StartTransaction(name)
	return newrelic.NewContext(parentCtx, txn), func() { txn.End() }
}

func (t *timer) newChild(parentCtx context.Context, name string) func() {
	txn := newrelic.FromContext(parentCtx)
	if txn == nil {
		t.logger.Warn("No transaction found. Cannot create child.")
		return noop
	}
	segment := txn.StartSegment(name)
	return func() { segment.End() }
}

func (t *timer) Close() {
	t.nr.Shutdown(30 * time.Second)
}

var _ Timer = &noopTimer{}

type noopTimer struct{}

func (t *noopTimer) new(parentCtx context.Context, name string) (context.Context, func()) {
	return parentCtx, noop
}

func (t *noopTimer) newChild(parentCtx context.Context, name string) func() {
	return noop
}

func (t *noopTimer) Close() {}

func noop() {}
