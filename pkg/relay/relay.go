// Package relay resubmits jobs that stayed pending longer than expected, covering
// submissions lost between job creation and the task backend.
package relay

import (
	"context"
	"time"

	"job-coordinator/pkg/job"
	"job-coordinator/pkg/queue"

	"github.com/sirupsen/logrus"
)

type PendingLister interface {
	StalePending(ctx context.Context, age time.Duration, limit int) ([]*job.Job, error)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type Relay struct {
	jobs  PendingLister
	tasks queue.Submitter
	cfg   Config
	log   logrus.FieldLogger
}

func New(jobs PendingLister, tasks queue.Submitter, cfg Config, log logrus.FieldLogger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Relay{jobs: jobs, tasks: tasks, cfg: cfg, log: log.WithField("component", "relay")}
}

// Run resubmits stale jobs every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.WithError(err).Error("failed to list stale pending jobs")
			}
		}
	}
}

// RunOnce resubmits one batch and returns how many tasks were handed over. A job that
// is picked up twice is claimed only once; the duplicate delivery is skipped.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	stale, err := r.jobs.StalePending(ctx, r.cfg.StaleAfter, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, j := range stale {
		l := r.log.WithFields(logrus.Fields{"job_id": j.ID, "kind": j.Kind})
		if err := r.tasks.Submit(ctx, queue.Task{JobID: j.ID, Kind: j.Kind, Payload: j.Payload}); err != nil {
			l.WithError(err).Error("failed to resubmit pending job")
			continue
		}
		sent++
		l.WithField("age", time.Since(j.CreatedAt).Round(time.Second).String()).Info("resubmitted pending job")
	}
	return sent, nil
}
