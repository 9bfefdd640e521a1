package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"job-coordinator/pkg/app"
	"job-coordinator/pkg/dispatch"
	"job-coordinator/pkg/observability"
	"job-coordinator/pkg/operation"
	"job-coordinator/pkg/queue"
	"job-coordinator/pkg/relay"
	"job-coordinator/pkg/server"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cmd := app.Command("api", "Serve the job coordinator HTTP API", run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App) error {
	cfg, log := a.Config, a.Log

	if err := a.InitSchema(ctx); err != nil {
		return err
	}
	if err := a.WithExecutor(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var tasks queue.Submitter
	switch cfg.Queue.Backend {
	case "local":
		pool, err := queue.NewLocal(queue.LocalConfig{Workers: cfg.Worker.Concurrency, QueueSize: cfg.Queue.Size}, a.Processor().Handle, log)
		if err != nil {
			return err
		}
		pool.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			pool.Stop(stopCtx)
		}()
		tasks = pool

		// Without a separate publisher process the api resubmits its own stragglers.
		rl := relay.New(a.Jobs, pool, relay.Config{
			Interval:   cfg.Relay.Interval,
			StaleAfter: cfg.Relay.StaleAfter,
			BatchSize:  cfg.Relay.BatchSize,
		}, log)
		g.Go(func() error { return rl.Run(ctx) })
	default:
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		defer mq.Close()
		if err := mq.SetupTopology(operation.Kinds()); err != nil {
			return err
		}
		tasks = mq
	}

	d := dispatch.New(a.Cache, a.Executor, a.Jobs, tasks, log)
	handler := server.New(server.Options{
		Version:      cfg.Server.Version,
		APIPrefix:    cfg.Server.APIPrefix,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, d, a.Jobs, a.Cache, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metrics := observability.StartMetricsServer(cfg.Server.MetricsAddr, log)

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("api server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, stopping api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = observability.ShutdownServer(shutdownCtx, metrics)
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	log.Info("api server stopped")
	return err
}
