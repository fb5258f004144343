package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentRollup)
	logger.Info("Starting rollup-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for rollup-worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.DBPath)
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	rollups := services.NewRollupService(repo, cfg.RebuildConcurrency)
	rollupWorker := worker.NewRollupWorker(repo, rollups)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Performing startup rollup check...")
	if err := rollupWorker.StartupCheck(ctx, cfg.UserID); err != nil {
		logger.Error("Startup rollup check failed", log.FieldError, err)
	}

	go func() {
		err := amqpClient.ConsumeMonthChanged(ctx, rollupWorker.HandleMonthChanged)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	logger.Info("rollup-worker started",
		"queue", cfg.AMQPQueue,
		"db_path", cfg.DBPath)
	cli.WaitForShutdown(ctx, done)
}
