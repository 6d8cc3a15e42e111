package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finsight/internal/amqp"
	"finsight/internal/backend"
	"finsight/internal/cache"
	"finsight/internal/cli"
	"finsight/internal/config"
	apphttp "finsight/internal/http"
	"finsight/internal/insight"
	"finsight/internal/log"
	"finsight/internal/services"
	"finsight/internal/session"
)

func main() {
	cfg, logger := cli.MustLoad()
	logger.Info("Starting finsight server", "port", cfg.Port, "backend", cfg.DataBackend, "auth", cfg.AuthMode)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	ledgerBackend, err := backend.NewFactory(logger).OpenLedger(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer ledgerBackend.Close()

	// AMQP is optional; writes still succeed without it
	var publisher services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.Logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			publisher = amqpClient
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	insightCache := cache.NewLRUCache[insight.Result](cfg.InsightCacheSize, cfg.InsightCacheTTL)
	cacheManager := cache.NewManager(logger.Logger)
	cacheManager.Register(insightCache)
	cacheManager.Start(context.Background(), time.Minute)

	insights := services.NewInsightService(ledgerBackend.Repository, insightCache,
		services.WithAnalysisDelay(cfg.AnalysisDelay),
		services.WithInsightLogger(logger.Logger))
	transactions := services.NewTransactionService(ledgerBackend.Repository, publisher, insights).
		WithLogger(logger.Logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Transactions:   transactions,
		Insights:       insights,
		Sessions:       sessionResolver(cfg),
		Pinger:         ledgerBackend.Pinger,
		Logger:         logger,
		RateLimitRPM:   cfg.RateLimitRPM,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

func sessionResolver(cfg *config.Config) session.Resolver {
	if cfg.AuthMode == config.AuthJWT {
		return session.BearerResolver{Verifier: session.NewVerifier(cfg.AuthJWTSecret)}
	}
	return session.HeaderResolver{}
}
