package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docshare/portal-messaging/cmd/mainconfig"
	"github.com/docshare/portal-messaging/internal/api/router"
	appconfig "github.com/docshare/portal-messaging/internal/config"
	"github.com/docshare/portal-messaging/internal/dispatch"
	"github.com/docshare/portal-messaging/internal/events"
	"github.com/docshare/portal-messaging/internal/http/handlers"
	"github.com/docshare/portal-messaging/internal/observability/metrics"
	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/internal/provider"
	"github.com/docshare/portal-messaging/internal/templates"
	dispatchworker "github.com/docshare/portal-messaging/internal/worker/dispatch"
	"github.com/docshare/portal-messaging/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting portal-messaging API server",
		"env", cfg.Env,
		"port", cfg.Port,
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

	registry := prometheus.NewRegistry()
	messagingMetrics := metrics.NewMessagingMetrics(registry)

	messageStore := outbound.NewStore(pool)
	templateStore := templates.NewStore(pool)
	renderer := templates.NewRenderer(templateStore)
	processedStore := events.NewProcessedStore(pool)

	var queue dispatch.Queue
	if cfg.UseMemoryQueue {
		queue = dispatch.NewMemoryQueue(256)
	} else {
		if cfg.DispatchQueueURL == "" {
			logger.Error("DISPATCH_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
			os.Exit(1)
		}
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		queue = dispatch.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.DispatchQueueURL)
	}

	service := outbound.NewService(messageStore, queue, messagingMetrics, logger)

	// With the in-memory queue there is no separate worker process; run the
	// dispatch pipeline inside this binary.
	if cfg.UseMemoryQueue {
		var sesClient *sesv2.Client
		if cfg.EmailEnable && cfg.EmailProvider == provider.EmailProviderSES {
			awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
			if err != nil {
				logger.Error("failed to load AWS config", "error", err)
				os.Exit(1)
			}
			sesClient = sesv2.NewFromConfig(awsCfg)
		}
		providers, err := provider.BuildRegistry(cfg, sesClient, logger)
		if err != nil {
			logger.Error("failed to build provider registry", "error", err)
			os.Exit(1)
		}
		policy := dispatch.RetryPolicy{
			MaxAttempts:  cfg.RetryMaxAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
		}
		dispatcher := dispatch.NewDispatcher(messageStore, providers, policy, logger).
			WithProviderTimeout(cfg.ProviderTimeout).
			WithMetrics(messagingMetrics)
		go dispatchworker.NewConsumer(queue, dispatcher, logger.Named("dispatch-consumer")).
			WithWorkers(cfg.WorkerCount).
			Run(ctx)
		go dispatchworker.NewRequeuer(messageStore, queue, cfg.RetryMaxAttempts, logger.Named("requeuer")).
			WithInterval(cfg.RequeueInterval).
			WithStaleClaimAge(cfg.ProviderTimeout + time.Minute).
			Run(ctx)
	}

	whatsappHook := handlers.NewWhatsAppWebhookHandler(messageStore, processedStore, cfg.MetaAppSecret, logger).
		WithMetrics(messagingMetrics)
	twilioHook := handlers.NewTwilioWebhookHandler(messageStore, processedStore, cfg.TwilioAuthToken, logger).
		WithMetrics(messagingMetrics)
	sendgridHook := handlers.NewSendGridWebhookHandler(messageStore, processedStore, logger).
		WithMetrics(messagingMetrics)
	adminMessages := handlers.NewAdminMessagesHandler(renderer, service, messageStore, logger)

	r := router.New(&router.Config{
		Logger:          logger,
		WhatsAppWebhook: whatsappHook,
		TwilioWebhook:   twilioHook,
		SendGridWebhook: sendgridHook,
		AdminMessages:   adminMessages,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
