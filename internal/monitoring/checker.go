// Package monitoring re-verifies the audit ledger on a schedule and raises
// alerts when the chain breaks or the decision mix drifts.
package monitoring

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Checker runs health checks on a cron schedule.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	schedule  string

	mu   sync.Mutex
	last *HealthSnapshot
}

// NewChecker creates a scheduled checker. schedule accepts standard cron
// expressions with optional seconds and descriptors such as "@every 1h".
func NewChecker(collector *Collector, alerter *Alerter, schedule string) *Checker {
	return &Checker{collector: collector, alerter: alerter, schedule: schedule}
}

func newCron() *cron.Cron {
	return cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
}

// Run checks once immediately, then on every scheduled tick until ctx is
// cancelled. An invalid schedule is returned before anything runs.
func (c *Checker) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	sched := newCron()
	if _, err := sched.AddFunc(c.schedule, func() { c.Check(ctx) }); err != nil {
		return eris.Wrapf(err, "monitoring: invalid schedule %q", c.schedule)
	}

	log.Info("starting ledger checker", zap.String("schedule", c.schedule))
	c.Check(ctx)
	sched.Start()

	<-ctx.Done()
	<-sched.Stop().Done()
	log.Info("ledger checker stopped")
	return nil
}

// Check collects one snapshot, evaluates it, and sends any alerts.
func (c *Checker) Check(ctx context.Context) *HealthSnapshot {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect health snapshot", zap.Error(err))
		return nil
	}
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: ledger healthy",
			zap.Int("records", snap.Ledger.Records),
			zap.Int("reports_sampled", snap.ReportsSampled),
		)
		return snap
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("monitoring: health check raised alerts",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return snap
}

// Last returns the most recent snapshot, or nil before the first check.
func (c *Checker) Last() *HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
