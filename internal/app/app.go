package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/api"
	"github.com/ayo6706/transfer-orchestrator/internal/api/handler"
	"github.com/ayo6706/transfer-orchestrator/internal/api/middleware"
	"github.com/ayo6706/transfer-orchestrator/internal/config"
	"github.com/ayo6706/transfer-orchestrator/internal/db"
	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/events"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/ayo6706/transfer-orchestrator/internal/rail"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/ayo6706/transfer-orchestrator/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	router, err := shard.New(shard.Config{
		Enabled:     cfg.Shard.Enabled,
		Count:       cfg.Shard.Count,
		TablePrefix: cfg.Shard.TablePrefix,
		Workers:     cfg.Shard.FanOutWorkers,
	})
	if err != nil {
		return fmt.Errorf("shard layout: %w", err)
	}
	if err := db.EnsurePartitions(ctx, pool, router); err != nil {
		return fmt.Errorf("ensure partitions: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	publisher, err := newPublisher(cfg.Events, redisClient)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer publisher.Close()

	store := repository.NewStore(pool)
	transfers := repository.NewTransferRepository(store, router)
	postgresLedger := ledger.NewPostgresLedger(store)
	rails := rail.NewRegistry(postgresLedger, railEndpoints(cfg.Rails))
	guard := idempotency.NewGuard(transfers, idempotency.NewCache(redisClient, cfg.IdempotencyCacheTTL))

	transferSvc := service.NewTransferService(transfers, guard, postgresLedger, rails, publisher, service.TransferConfig{
		MinAmountMicros: cfg.Transfer.MinAmountMicros,
		MaxAmountMicros: cfg.Transfer.MaxAmountMicros,
		RailTimeout:     cfg.Transfer.RailTimeout,
		RailTimeouts:    railTimeouts(cfg.Rails),
	})
	accountSvc := service.NewAccountService(store.Queries())
	webhookSvc := service.NewRailWebhookService(transferSvc, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	if cfg.WebhookSkipSignature {
		logger.Warn("rail webhook signature verification is disabled")
	}
	archivalSvc := service.NewArchivalService(transfers, service.ArchivalConfig{
		After:        cfg.Archive.After,
		BatchSize:    int(cfg.Archive.BatchSize),
		BatchTimeout: cfg.Archive.BatchTimeout,
	})
	reconciliationSvc := service.NewReconciliationService(store.Queries())

	pollWorker := worker.NewStatusPollWorker(transferSvc).
		WithPollInterval(cfg.StatusPollInterval).
		WithBatchSize(int(cfg.StatusPollBatchSize)).
		WithStaleAfter(cfg.StaleTransferWindow)
	stopPoller := pollWorker.Run(ctx)
	logger.Info("status poll worker started",
		zap.Duration("interval", cfg.StatusPollInterval),
		zap.Int32("batch", cfg.StatusPollBatchSize),
		zap.Duration("stale_after", cfg.StaleTransferWindow))

	stopArchiver := worker.NewArchivalWorker(archivalSvc).WithInterval(cfg.Archive.Interval).Run(ctx)
	logger.Info("archival worker started", zap.Duration("interval", cfg.Archive.Interval), zap.Duration("after", cfg.Archive.After))

	stopReconciler := worker.NewReconciliationWorker(reconciliationSvc).WithInterval(cfg.ReconciliationInterval).Run(ctx)

	routes := api.NewRouter(api.Dependencies{
		Logger:        logger,
		Auth:          middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Transfers:     transferSvc,
		Accounts:      accountSvc,
		Webhooks:      webhookSvc,
		Health:        handler.NewHealthHandler(pool, redisClient),
		PublicRateRPS: cfg.PublicRateLimitRPS,
		AuthRateRPS:   cfg.AuthRateLimitRPS,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      routes.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.Int("partitions", len(router.Tables())))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopPoller()
	stopArchiver()
	stopReconciler()

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newPublisher(cfg config.EventConfig, client redis.Cmdable) (events.Publisher, error) {
	switch strings.ToLower(cfg.Bus) {
	case "redis":
		return events.NewRedisStreamPublisher(client, cfg.Stream), nil
	case "rabbitmq":
		return events.DialRabbit(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	case "none", "":
		return events.NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", cfg.Bus)
	}
}

func railEndpoints(rails map[string]config.RailConfig) map[domain.Rail]rail.Endpoint {
	out := make(map[domain.Rail]rail.Endpoint, len(rails))
	for name, rc := range rails {
		out[domain.Rail(name)] = rail.Endpoint{BaseURL: rc.BaseURL, Timeout: rc.Timeout}
	}
	return out
}

func railTimeouts(rails map[string]config.RailConfig) map[domain.Rail]time.Duration {
	out := make(map[domain.Rail]time.Duration, len(rails))
	for name, rc := range rails {
		if rc.Timeout > 0 {
			out[domain.Rail(name)] = rc.Timeout
		}
	}
	return out
}
