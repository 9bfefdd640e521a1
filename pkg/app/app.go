// Package app wires configuration into the shared components used by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"job-coordinator/pkg/cache"
	"job-coordinator/pkg/compute"
	"job-coordinator/pkg/config"
	"job-coordinator/pkg/coordinator"
	"job-coordinator/pkg/processor"
	"job-coordinator/pkg/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	Redis    *redis.Client
	Cache    *cache.Cache
	Store    store.Store
	Jobs     *coordinator.Coordinator
	Executor *compute.Executor

	closers []func() error
}

// New connects to Redis and the configured job store. Components that need a model
// call WithExecutor.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = cfg.Redis.DialTimeout
	opts.ReadTimeout = cfg.Redis.ReadTimeout
	opts.WriteTimeout = cfg.Redis.WriteTimeout
	a.Redis = redis.NewClient(opts)
	a.closers = append(a.closers, a.Redis.Close)

	// The cache degrades on its own; only log an unreachable Redis here.
	a.Cache = cache.New(a.Redis, cfg.Cache.Prefix, cfg.Cache.TTL, log)
	if err := a.Cache.Ping(ctx); err != nil {
		log.WithError(err).Warn("redis unreachable at startup, cache disabled until it recovers")
	}

	switch cfg.Store.Backend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store = pg
	default:
		a.Store = store.NewRedis(a.Redis).WithLogger(log)
	}
	a.closers = append(a.closers, a.Store.Close)

	a.Jobs = coordinator.New(a.Store, log)
	return a, nil
}

// InitSchema prepares the job store when the backend needs it.
func (a *App) InitSchema(ctx context.Context) error {
	if pg, ok := a.Store.(*store.Postgres); ok {
		return pg.InitSchema(ctx)
	}
	return nil
}

// WithExecutor builds the compute executor for the configured provider.
func (a *App) WithExecutor(ctx context.Context) error {
	var gen compute.Generator
	switch a.Config.Compute.Provider {
	case "echo":
		gen = compute.EchoGenerator{}
	default:
		g, err := compute.NewGemini(ctx, compute.GeminiOptions{
			APIKey:         a.Config.Compute.APIKey,
			Model:          a.Config.Compute.Model,
			Timeout:        a.Config.Compute.Timeout,
			BreakerTimeout: a.Config.Compute.BreakerTimeout,
		}, a.Log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, g.Close)
		gen = g
	}
	a.Executor = compute.NewExecutor(gen, a.Log)
	return nil
}

// Processor returns a task processor; WithExecutor must have been called.
func (a *App) Processor() *processor.Processor {
	w := a.Config.Worker
	return processor.New(a.Jobs, a.Executor, w.SoftTimeout, w.HardTimeout, a.Log)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
