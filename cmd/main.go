/**
 * @description
 * This is the main entry point for the billing-service. It runs the daily
 * recurring-subscription billing batch, either once per invocation (scheduled
 * task mode) or as a long-running cron daemon.
 * It initializes the configuration, database connection, gateway and alert
 * clients, and the orchestrator, then dispatches by run mode.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/creatorly/billing-service/internal/app"
	"github.com/creatorly/billing-service/internal/config"
	"github.com/creatorly/billing-service/internal/store"
	"github.com/creatorly/billing-service/pkg/credix"
	"github.com/creatorly/billing-service/pkg/rabbitmq"
	"github.com/creatorly/billing-service/pkg/slack"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Event publisher, with a no-op fallback when RabbitMQ is not configured.
	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, "billing.events")
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, billing events disabled", "error", err)
			publisher = &rabbitmq.EventProducerFallback{Logger: logger}
		} else {
			publisher = producer
		}
	} else {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	defer publisher.Close()

	// Optional distributed run lock.
	var lock app.RunLock
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse redis URL", "error", err)
			os.Exit(1)
		}
		lock = app.NewRedisRunLock(redis.NewClient(opts), "billing:batch:lock", 12*time.Hour)
	}

	repository := store.NewRepository(dbpool)
	gateway := credix.NewClient(cfg.CredixAPIURL, cfg.CredixClientIP, time.Duration(cfg.GatewayTimeoutSecs)*time.Second)
	alerter := slack.NewClient(cfg.SlackBotToken, cfg.SlackChannel, cfg.Environment)

	worker := app.NewWorker(
		repository,
		gateway,
		alerter,
		logger,
		time.Duration(cfg.RetryIntervalSeconds)*time.Second,
		cfg.MaxChargeAttempts,
	)
	orchestrator := app.NewOrchestrator(repository, worker, lock, publisher, logger, cfg.MaxConcurrentWorkers)

	if cfg.RunOnce {
		result, err := orchestrator.Run(ctx)
		if err != nil {
			logger.Error("billing batch failed", "error", err)
			os.Exit(1)
		}
		if result.Failed() > 0 {
			logger.Error("billing batch finished with failed subscriptions", "failed", result.Failed())
			os.Exit(1)
		}
		return
	}

	scheduler := app.NewScheduler(orchestrator, logger, cfg.BillingJobSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}
