// Package store persists job records. Every backend offers an atomic
// compare-and-swap on the job status so concurrent writers cannot both win.
package store

import (
	"context"
	"time"

	"job-coordinator/pkg/job"
)

type Store interface {
	// Insert persists a new job. The id must not already exist.
	Insert(ctx context.Context, j *job.Job) error
	// Get returns job.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*job.Job, error)
	// CompareAndSwap replaces the stored job with next only if its current status
	// equals expected. It reports false, nil when the status had moved on.
	CompareAndSwap(ctx context.Context, expected job.Status, next *job.Job) (bool, error)
	// ListPending returns up to limit jobs still pending that were created before olderThan.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error)
	Ping(ctx context.Context) error
	Close() error
}
