package main

import (
	"context"
	"fmt"
	"os"

	"job-coordinator/pkg/app"
	"job-coordinator/pkg/operation"
	"job-coordinator/pkg/queue"
	"job-coordinator/pkg/relay"

	"github.com/sirupsen/logrus"
)

func main() {
	cmd := app.Command("publisher", "Resubmit jobs stuck in pending to RabbitMQ", run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App) error {
	cfg, log := a.Config, a.Log

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer mq.Close()

	// Ensure topology exists; safe if already declared
	if err := mq.SetupTopology(operation.Kinds()); err != nil {
		return fmt.Errorf("failed to setup rabbitmq topology: %w", err)
	}

	r := relay.New(a.Jobs, mq, relay.Config{
		Interval:   cfg.Relay.Interval,
		StaleAfter: cfg.Relay.StaleAfter,
		BatchSize:  cfg.Relay.BatchSize,
	}, log)
	log.WithFields(logrus.Fields{
		"interval":    cfg.Relay.Interval.String(),
		"stale_after": cfg.Relay.StaleAfter.String(),
	}).Info("relay started")
	return r.Run(ctx)
}
