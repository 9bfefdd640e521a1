// Package coordinator owns the job lifecycle: it creates job records, enforces the
// pending -> processing -> completed|failed state machine and serves snapshots.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"job-coordinator/pkg/job"
	"job-coordinator/pkg/observability"
	"job-coordinator/pkg/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxCASAttempts bounds the re-read loop in Transition. The state machine only moves
// forward, so a job can change under us at most twice.
const maxCASAttempts = 3

type Coordinator struct {
	store store.Store
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string
}

func New(s store.Store, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		store: s,
		log:   log.WithField("component", "coordinator"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Create persists a pending job and returns its id. Submitting the work is the
// caller's job; until that happens the record stays pending.
func (c *Coordinator) Create(ctx context.Context, kind job.Kind, payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	j := &job.Job{
		ID:        c.newID(),
		Kind:      kind,
		Status:    job.StatusPending,
		CreatedAt: c.now(),
		Payload:   payload,
	}
	if err := c.store.Insert(ctx, j); err != nil {
		return "", unavailable("create", err)
	}
	c.log.WithFields(logrus.Fields{"job_id": j.ID, "kind": kind}).Info("job created")
	return j.ID, nil
}

// Get returns the current snapshot of a job.
func (c *Coordinator) Get(ctx context.Context, id string) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return nil, err
		}
		return nil, unavailable("get", err)
	}
	return j, nil
}

// Transition moves a job to status to. result is recorded on completion and errMsg on
// failure; completed_at is stamped exactly when a terminal state is entered.
// Illegal moves return an error wrapping job.ErrInvalidTransition and leave the stored
// job untouched.
func (c *Coordinator) Transition(ctx context.Context, id string, to job.Status, result json.RawMessage, errMsg string) (*job.Job, error) {
	l := c.log.WithFields(logrus.Fields{"job_id": id, "to": to})

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := c.apply(current, to, result, errMsg)
		if err != nil {
			observability.TransitionsRejected.WithLabelValues(string(current.Status), string(to)).Inc()
			l.WithError(err).WithField("from", current.Status).Error("rejected job transition")
			return nil, err
		}

		swapped, err := c.store.CompareAndSwap(ctx, current.Status, next)
		if err != nil {
			if errors.Is(err, job.ErrNotFound) {
				return nil, err
			}
			return nil, unavailable("transition", err)
		}
		if swapped {
			l.WithField("from", current.Status).Info("job transitioned")
			return next, nil
		}
		l.WithField("attempt", attempt+1).Debug("job changed concurrently, re-reading")
	}
	return nil, unavailable("transition", fmt.Errorf("job %s kept changing during %d attempts", id, maxCASAttempts))
}

// apply computes the job that results from moving current to status to.
func (c *Coordinator) apply(current *job.Job, to job.Status, result json.RawMessage, errMsg string) (*job.Job, error) {
	if !job.CanTransition(current.Status, to) {
		return nil, &job.TransitionError{ID: current.ID, From: current.Status, To: to}
	}
	next := current.Clone()
	next.Status = to
	switch to {
	case job.StatusCompleted:
		if len(result) == 0 {
			return nil, &job.TransitionError{ID: current.ID, From: current.Status, To: to, Reason: "result is required"}
		}
		if errMsg != "" {
			return nil, &job.TransitionError{ID: current.ID, From: current.Status, To: to, Reason: "completed job cannot carry an error"}
		}
		next.Result = result
	case job.StatusFailed:
		if len(result) != 0 {
			return nil, &job.TransitionError{ID: current.ID, From: current.Status, To: to, Reason: "failed job cannot carry a result"}
		}
		if errMsg == "" {
			errMsg = "unknown error"
		}
		next.Error = errMsg
	}
	if to.Terminal() {
		now := c.now()
		next.CompletedAt = &now
	}
	return next, nil
}

// StalePending lists jobs that have been pending since before now-age.
func (c *Coordinator) StalePending(ctx context.Context, age time.Duration, limit int) ([]*job.Job, error) {
	jobs, err := c.store.ListPending(ctx, c.now().Add(-age), limit)
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	return jobs, nil
}

// RequestCancel records nothing: work already handed to the task backend keeps running.
// It only confirms the job exists and returns its snapshot.
func (c *Coordinator) RequestCancel(ctx context.Context, id string) (*job.Job, error) {
	j, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"job_id": id, "status": j.Status}).Info("cancellation requested (advisory)")
	return j, nil
}

func (c *Coordinator) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", job.ErrStorageUnavailable, op, err)
}
