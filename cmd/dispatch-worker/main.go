package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/docshare/portal-messaging/cmd/mainconfig"
	appconfig "github.com/docshare/portal-messaging/internal/config"
	"github.com/docshare/portal-messaging/internal/dispatch"
	"github.com/docshare/portal-messaging/internal/observability/metrics"
	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/internal/provider"
	dispatchworker "github.com/docshare/portal-messaging/internal/worker/dispatch"
	"github.com/docshare/portal-messaging/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dispatch worker",
		"env", cfg.Env,
		"workers", cfg.WorkerCount,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DispatchQueueURL == "" {
		logger.Error("DISPATCH_QUEUE_URL is required")
		os.Exit(1)
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := dispatch.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.DispatchQueueURL)

	var sesClient *sesv2.Client
	if cfg.EmailEnable && cfg.EmailProvider == provider.EmailProviderSES {
		sesClient = sesv2.NewFromConfig(awsCfg)
	}
	providers, err := provider.BuildRegistry(cfg, sesClient, logger)
	if err != nil {
		logger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}

	messagingMetrics := metrics.NewMessagingMetrics(prometheus.NewRegistry())
	messageStore := outbound.NewStore(pool)
	policy := dispatch.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
	}
	dispatcher := dispatch.NewDispatcher(messageStore, providers, policy, logger).
		WithProviderTimeout(cfg.ProviderTimeout).
		WithMetrics(messagingMetrics)

	consumer := dispatchworker.NewConsumer(queue, dispatcher, logger.Named("dispatch-consumer")).
		WithWorkers(cfg.WorkerCount)
	requeuer := dispatchworker.NewRequeuer(messageStore, queue, cfg.RetryMaxAttempts, logger.Named("requeuer")).
		WithInterval(cfg.RequeueInterval).
		WithStaleClaimAge(cfg.ProviderTimeout + time.Minute)

	go consumer.Run(ctx)
	go requeuer.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down dispatch worker...")
	cancel()
	// Give in-flight dispatches a moment to persist before exiting.
	time.Sleep(2 * time.Second)
	logger.Info("dispatch worker stopped")
}
