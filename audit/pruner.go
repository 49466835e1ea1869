package audit

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const pruneTimeout = time.Minute

// EventDeleter removes events older than a cutoff.
type EventDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner enforces the audit retention window on a cron schedule.
type Pruner struct {
	store     EventDeleter
	retention time.Duration
	log       logrus.FieldLogger
	cron      *cron.Cron
	now       func() time.Time
}

func NewPruner(store EventDeleter, retention time.Duration, log logrus.FieldLogger) *Pruner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		log:       log.WithField("component", "audit_pruner"),
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start schedules RunOnce with a standard cron spec or descriptor such as
// "@hourly".
func (p *Pruner) Start(schedule string) error {
	if p.retention <= 0 {
		return errors.New("audit retention must be positive")
	}
	if _, err := p.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		_, _ = p.RunOnce(ctx)
	}); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and returns a context done when a running prune
// has finished.
func (p *Pruner) Stop() context.Context {
	return p.cron.Stop()
}

// RunOnce deletes everything older than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Warn("audit prune failed")
		return 0, err
	}
	p.log.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff}).Info("audit events pruned")
	return n, nil
}
