// cmd/notification-worker/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notification-workers/internal/common/camunda"
	"notification-workers/internal/common/config"
	"notification-workers/internal/common/database"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/observability"
	"notification-workers/internal/common/queue"

	sn "notification-workers/internal/workers/application/send-notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification worker...",
		zap.String("environment", cfg.App.Environment),
		zap.String("broker", cfg.Broker.Type),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectRetries := uint64(cfg.Broker.ConnectMaxRetries)

	// --- Delivery log (optional) ---
	var store sn.DeliveryStore
	if cfg.Database.Postgres.Enabled() {
		pg, err := database.ConnectPostgres(ctx, cfg.Database.Postgres, connectRetries)
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		deliveryLog := database.NewDeliveryLog(pg.DB)
		if err := deliveryLog.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("delivery log schema failed", zap.Error(err))
		}
		store = deliveryLog
		zapLog.Info("Delivery log ready")
	}

	// --- Channels ---
	registry, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("failed to build channels", zap.Error(err))
	}
	if err := registry.InitializeAll(ctx); err != nil {
		_ = registry.CloseAll()
		zapLog.Fatal("failed to initialize channels", zap.Error(err))
	}
	channels := enabledChannels(registry)
	zapLog.Info("Channels initialized", zap.Any("channels", channels))

	handler, err := sn.NewHandler(sn.FromAppConfig(cfg.Worker), sn.HandlerDependencies{
		Registry:      registry,
		Store:         store,
		Observability: obs,
		Logger:        log,
	})
	if err != nil {
		zapLog.Fatal("failed to create send-notification handler", zap.Error(err))
	}

	// --- Broker ---
	var stopBroker func(context.Context)
	switch cfg.Broker.Type {
	case config.BrokerZeebe:
		clientCfg := camunda.DefaultClientConfig(cfg.Camunda.BrokerAddress)
		clientCfg.RequestTimeout = config.GetDuration(cfg.Camunda.RequestTimeout)

		var zeebe *camunda.Client
		err := database.WaitFor(ctx, "zeebe", connectRetries, func(context.Context) error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(clientCfg)
			return err
		})
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		w := camunda.NewWorker(zeebe.GetClient(), cfg.Camunda.TaskType, cfg.Camunda.MaxJobsActive, handler, log)
		stopBroker = func(ctx context.Context) {
			w.Stop(ctx)
			if err := zeebe.Close(); err != nil {
				zapLog.Error("Error closing Zeebe client", zap.Error(err))
			}
		}

	default:
		redisClient, err := database.ConnectRedis(ctx, cfg.Database.Redis, connectRetries)
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		poolCfg := queue.DefaultPoolConfig(queue.QueueNames(cfg.Broker.QueuePrefix, channels))
		poolCfg.Concurrency = cfg.Broker.Concurrency
		poolCfg.BlockTimeout = config.GetDuration(cfg.Broker.BlockTimeout)
		poolCfg.SchedulerInterval = config.GetDuration(cfg.Broker.SchedulerInterval)
		poolCfg.VisibilityTimeout = config.GetDuration(cfg.Broker.VisibilityTimeout)

		pool := queue.NewPool(queue.NewRedisBroker(redisClient.Client), handler, poolCfg, log)
		pool.Start(ctx)
		stopBroker = func(context.Context) {
			pool.Stop()
			if err := redisClient.Close(); err != nil {
				zapLog.Error("Error closing Redis client", zap.Error(err))
			}
		}
	}

	// --- Health & Metrics Server ---
	var ready atomic.Bool
	ready.Store(true)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newMux(handler, &ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	ready.Store(false)
	zapLog.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Worker.ShutdownTimeout))
	defer cancel()

	stopBroker(shutdownCtx)
	if err := handler.Close(shutdownCtx); err != nil {
		zapLog.Error("Error closing channels", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}

	zapLog.Info("Notification worker stopped gracefully")
}
