// Package queue hands accepted jobs to background execution, either through RabbitMQ
// or an in-process worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"

	"job-coordinator/pkg/job"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrClosed    = errors.New("task queue is closed")
)

// Task is the message handed to a worker. Payload is the validated request body.
type Task struct {
	JobID   string          `json:"job_id"`
	Kind    job.Kind        `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Submitter enqueues tasks for execution. A successful Submit means the task will be
// delivered at least once.
type Submitter interface {
	Submit(ctx context.Context, t Task) error
}

// Handler runs one task. A non-nil error asks the backend to redeliver it.
type Handler func(ctx context.Context, t Task) error
