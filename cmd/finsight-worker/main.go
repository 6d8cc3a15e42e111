package main

import (
	"context"
	"errors"
	"os"
	"time"

	"finsight/internal/amqp"
	"finsight/internal/backend"
	"finsight/internal/cli"
	"finsight/internal/log"
	"finsight/internal/services"
	"finsight/internal/worker"
)

func main() {
	cfg, logger := cli.MustLoad()
	logger.Info("Starting finsight-worker", "backend", cfg.DataBackend, "export", cfg.ExportBackend)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	if err := backendCfg.ValidateShared(); err != nil {
		logger.Error("The worker needs a ledger shared with the server", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger)

	ledgerBackend, err := factory.OpenLedger(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer ledgerBackend.Close()

	writer, err := factory.OpenExportWriter(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to open export writer", log.FieldError, err)
		os.Exit(1)
	}

	exportWorker := worker.NewExportWorker(ledgerBackend.Repository, writer, logger)

	var processor *services.OutboxProcessor
	if ledgerBackend.Outbox != nil {
		processor = services.NewOutboxProcessor(ledgerBackend.Outbox, exportWorker, services.OutboxProcessorConfig{
			PollInterval: cfg.SyncInterval,
			BatchSize:    cfg.SyncBatchSize,
		}).WithLogger(logger.Logger)
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.Logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
	} else {
		logger.Info("AMQP disabled, relying on the export outbox only")
	}

	if processor == nil && amqpClient == nil {
		logger.Error("Nothing to do: the backend has no export outbox and AMQP is not configured")
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Warn("Outbox processor stop error", log.FieldError, err)
			}
		}
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start outbox processor", log.FieldError, err)
			os.Exit(1)
		}
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeTransactionEvents(ctx, exportWorker.HandleEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", log.FieldError, err)
				os.Exit(1)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	if processor != nil {
		stats := processor.Stats()
		logger.Info("Worker stopped", "exported", stats.Exported, "failed", stats.Failed, "parked", stats.Parked)
	}
}
