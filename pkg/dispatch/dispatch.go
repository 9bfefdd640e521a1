// Package dispatch serves operation requests: synchronously through the result cache,
// or asynchronously by creating a job and handing it to the task backend.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"job-coordinator/pkg/cache"
	"job-coordinator/pkg/compute"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/observability"
	"job-coordinator/pkg/operation"
	"job-coordinator/pkg/queue"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type ResultCache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl ...time.Duration) bool
}

type Runner interface {
	Run(ctx context.Context, req operation.Request) (compute.Result, error)
}

type JobCreator interface {
	Create(ctx context.Context, kind job.Kind, payload json.RawMessage) (string, error)
}

// Outcome is the data returned by a synchronous request.
type Outcome struct {
	Data   map[string]any
	Cached bool
}

type Dispatcher struct {
	cache  ResultCache
	runner Runner
	jobs   JobCreator
	tasks  queue.Submitter
	log    logrus.FieldLogger
	group  singleflight.Group
}

func New(c ResultCache, r Runner, jobs JobCreator, tasks queue.Submitter, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{cache: c, runner: r, jobs: jobs, tasks: tasks, log: log.WithField("component", "dispatch")}
}

// Run answers req from the cache when possible and computes it otherwise. Identical
// requests that miss at the same time share a single computation.
func (d *Dispatcher) Run(ctx context.Context, req operation.Request) (*Outcome, error) {
	kind := req.Kind()
	key := cache.Fingerprint(string(kind), req.Fields()...)

	var data map[string]any
	if d.cache.Get(ctx, key, &data) {
		observability.SyncRequests.WithLabelValues(string(kind), "true").Inc()
		return &Outcome{Data: data, Cached: true}, nil
	}

	// The shared computation must not inherit one caller's cancellation; it stays
	// bounded by the generator timeout.
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (interface{}, error) {
		start := time.Now()
		res, err := d.runner.Run(shared, req)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(res)+1)
		for k, v := range res {
			out[k] = v
		}
		out["processing_time"] = time.Since(start).Seconds()
		if !d.cache.Set(shared, key, out) {
			d.log.WithField("kind", kind).Debug("result not cached")
		}
		return out, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	observability.SyncRequests.WithLabelValues(string(kind), "false").Inc()
	return &Outcome{Data: res.Val.(map[string]any), Cached: false}, nil
}

// Submit creates a pending job for req and enqueues it. When the enqueue fails the job
// id is still returned with the error; the record stays pending for the relay.
func (d *Dispatcher) Submit(ctx context.Context, req operation.Request) (string, error) {
	kind := req.Kind()
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	id, err := d.jobs.Create(ctx, kind, payload)
	if err != nil {
		return "", err
	}

	l := d.log.WithFields(logrus.Fields{"job_id": id, "kind": kind})
	if err := d.tasks.Submit(ctx, queue.Task{JobID: id, Kind: kind, Payload: payload}); err != nil {
		l.WithError(err).Error("failed to enqueue job, leaving it pending")
		return id, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	observability.JobsSubmitted.WithLabelValues(string(kind)).Inc()
	l.Info("job enqueued")
	return id, nil
}
