package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"job-coordinator/pkg/app"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/observability"
	"job-coordinator/pkg/operation"
	"job-coordinator/pkg/processor"
	"job-coordinator/pkg/queue"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := app.Command("worker", "Consume queued jobs from RabbitMQ and run them", run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App) error {
	cfg, log := a.Config, a.Log

	if err := a.WithExecutor(ctx); err != nil {
		return err
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.SetupTopology(operation.Kinds()); err != nil {
		return fmt.Errorf("failed to setup rabbitmq topology: %w", err)
	}

	metrics := observability.StartMetricsServer(cfg.Worker.MetricsAddr, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = observability.ShutdownServer(shutdownCtx, metrics)
	}()

	proc := a.Processor()
	kinds := operation.Kinds()
	deliveries := make(map[job.Kind]<-chan amqp.Delivery, len(kinds))
	for _, k := range kinds {
		ch, err := mq.Consume(k, cfg.Worker.Concurrency)
		if err != nil {
			return fmt.Errorf("failed to start consuming %s: %w", k, err)
		}
		deliveries[k] = ch
	}

	var g errgroup.Group
	for k, ch := range deliveries {
		k, ch := k, ch
		g.Go(func() error {
			startWorker(ctx, log, proc, k, ch, cfg.Worker.Concurrency)
			return nil
		})
	}
	log.Info("all workers started. waiting for jobs...")

	err = g.Wait()
	log.Info("all workers stopped gracefully")
	return err
}

func startWorker(ctx context.Context, log logrus.FieldLogger, proc *processor.Processor, kind job.Kind, deliveries <-chan amqp.Delivery, concurrency int) {
	l := log.WithField("kind", kind)
	l.WithField("concurrency", concurrency).Info("worker started")

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						l.Warn("delivery channel closed")
						return
					}
					handleMessage(l, proc.Handle, msg)
				}
			}
		}()
	}
	wg.Wait()
	l.Info("worker shutting down")
}

// handleMessage acknowledges every delivery the processor settled. Storage outages
// requeue the message; undecodable bodies are dead-lettered.
func handleMessage(l logrus.FieldLogger, handle queue.Handler, msg amqp.Delivery) {
	task, err := queue.DecodeTask(msg.Body)
	if err != nil {
		l.WithError(err).Error("rejecting malformed task")
		_ = msg.Nack(false, false)
		return
	}

	// In-flight work finishes on shutdown; the hard limit still bounds it.
	if err := handle(context.Background(), task); err != nil {
		l.WithError(err).WithField("job_id", task.JobID).Warn("requeueing task")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
