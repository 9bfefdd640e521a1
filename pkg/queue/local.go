package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type LocalConfig struct {
	Workers   int
	QueueSize int
}

func (cfg LocalConfig) Validate() error {
	if cfg.Workers < 1 {
		return errors.New("workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	return nil
}

// Local runs tasks on a bounded pool of goroutines inside the api process. Tasks are
// lost if the process exits before they run; the relay resubmits such jobs.
type Local struct {
	handler Handler
	workers int
	tasks   chan Task
	log     logrus.FieldLogger

	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64
}

func NewLocal(cfg LocalConfig, h Handler, log logrus.FieldLogger) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		handler: h,
		workers: cfg.Workers,
		tasks:   make(chan Task, cfg.QueueSize),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (p *Local) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Local) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.pending.Add(-1)
		if err := p.handler(p.ctx, t); err != nil {
			p.log.WithError(err).WithField("job_id", t.JobID).Warn("local task failed, relay will resubmit")
		}
	}
}

// Submit enqueues t without blocking. It returns ErrQueueFull when the buffer is full.
func (p *Local) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.pending.Add(1)
	select {
	case p.tasks <- t:
		return nil
	default:
		p.pending.Add(-1)
		return ErrQueueFull
	}
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (p *Local) Pending() int64 {
	return p.pending.Load()
}

// Stop stops accepting tasks and waits for queued ones to drain. When ctx expires
// first, in-flight handlers are cancelled.
func (p *Local) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}
