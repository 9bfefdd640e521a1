// Package processor runs one delivered task against the job lifecycle: claim, execute,
// record the outcome.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"job-coordinator/pkg/compute"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/observability"
	"job-coordinator/pkg/queue"

	"github.com/sirupsen/logrus"
)

// recordTimeout bounds the final status write, which runs even after the hard limit.
const recordTimeout = 10 * time.Second

type Lifecycle interface {
	Transition(ctx context.Context, id string, to job.Status, result json.RawMessage, errMsg string) (*job.Job, error)
}

type Executor interface {
	Execute(ctx context.Context, kind job.Kind, payload json.RawMessage) (compute.Result, error)
}

type Processor struct {
	jobs Lifecycle
	exec Executor
	log  logrus.FieldLogger
	soft time.Duration
	hard time.Duration
}

func New(jobs Lifecycle, exec Executor, soft, hard time.Duration, log logrus.FieldLogger) *Processor {
	if hard < soft {
		hard = soft
	}
	return &Processor{jobs: jobs, exec: exec, log: log, soft: soft, hard: hard}
}

// Handle claims the job behind t, runs it and records the outcome. It returns nil when
// the delivery is fully handled, including duplicates and unknown jobs, and an error
// only when storage could not be reached and the task should be delivered again.
func (p *Processor) Handle(ctx context.Context, t queue.Task) error {
	l := p.log.WithFields(logrus.Fields{"job_id": t.JobID, "kind": t.Kind})

	ctx, cancel := context.WithTimeout(ctx, p.hard)
	defer cancel()

	claimed, err := p.jobs.Transition(ctx, t.JobID, job.StatusProcessing, nil, "")
	switch {
	case errors.Is(err, job.ErrInvalidTransition):
		l.Info("job already claimed, skipping duplicate delivery")
		observability.JobsProcessed.WithLabelValues(string(t.Kind), "duplicate").Inc()
		return nil
	case errors.Is(err, job.ErrNotFound):
		l.Warn("task references unknown job, dropping")
		return nil
	case err != nil:
		l.WithError(err).Error("failed to claim job")
		return err
	}
	l.Info("job claimed, starting processing")

	start := time.Now()
	result, execErr := p.execute(ctx, claimed)
	observability.JobDuration.WithLabelValues(string(claimed.Kind)).Observe(time.Since(start).Seconds())

	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()

	if execErr != nil {
		l.WithError(execErr).Error("job processing failed")
		if _, err := p.jobs.Transition(recordCtx, claimed.ID, job.StatusFailed, nil, execErr.Error()); err != nil {
			l.WithError(err).Error("failed to record job failure")
			return err
		}
		observability.JobsProcessed.WithLabelValues(string(claimed.Kind), "failed").Inc()
		return nil
	}

	if _, err := p.jobs.Transition(recordCtx, claimed.ID, job.StatusCompleted, result, ""); err != nil {
		l.WithError(err).Error("failed to record job result")
		return err
	}
	observability.JobsProcessed.WithLabelValues(string(claimed.Kind), "completed").Inc()
	l.WithField("duration", time.Since(start).String()).Info("job completed successfully")
	return nil
}

// execute runs the operation under the soft limit and returns the encoded result,
// tagged with the task type.
func (p *Processor) execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.soft)
	defer cancel()

	res, err := p.exec.Execute(execCtx, j.Kind, j.Payload)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("time limit of %s exceeded: %w", p.soft, err)
		}
		return nil, err
	}

	out := make(compute.Result, len(res)+1)
	for k, v := range res {
		out[k] = v
	}
	out["task_type"] = string(j.Kind)
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return raw, nil
}
