package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"story-text-worker/internal/api"
	"story-text-worker/internal/config"
	"story-text-worker/internal/logger"
	"story-text-worker/internal/messaging"
	"story-text-worker/internal/repository"
	"story-text-worker/internal/service"
	"story-text-worker/internal/storage"
	"story-text-worker/internal/worker"
)

const (
	rabbitConnectAttempts = 5
	rabbitConnectDelay    = 5 * time.Second
	shutdownTimeout       = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)

	zapLogger.Info("Starting story text worker...")
	cfg.LogSummary(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Worker stopped with error", zap.Error(err))
	}
	zapLogger.Info("Story text worker stopped.")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// --- Store ---
	store, closeStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Blob publisher ---
	blobs, err := setupBlobPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// --- Generator ---
	aiMetrics := service.NewAIMetrics(worker.Registry())
	generator, err := service.NewTextGenerator(cfg.Generator, aiMetrics, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации генератора: %w", err)
	}

	// --- Story locker ---
	var locker repository.StoryLocker = repository.NoopStoryLocker{}
	if cfg.Redis.URL != "" {
		redisClient, err := repository.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = repository.NewRedisStoryLocker(redisClient, cfg.Redis.LockTTL, logger)
		logger.Info("Story locks enabled", zap.Duration("ttl", cfg.Redis.LockTTL))
	}

	// --- RabbitMQ ---
	conn, err := connectRabbitMQ(ctx, cfg.RabbitMQ.URL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	notifyCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал событий: %w", err)
	}
	defer notifyCh.Close()

	notifier, err := messaging.NewRabbitMQNotifier(notifyCh, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return err
	}

	// --- Pipeline ---
	pipeline := worker.NewPipeline(store, generator, blobs, notifier, locker, logger)
	runner := worker.NewBatchRunner(pipeline, cfg.RabbitMQ.ItemTimeout, logger)
	reconciler := worker.NewReconciler(pipeline, cfg.RabbitMQ.ItemTimeout, logger)

	// --- Metrics push (опционально) ---
	if cfg.PushgatewayURL != "" {
		pusher, err := worker.NewMetricsPusher(cfg.PushgatewayURL, logger)
		if err != nil {
			logger.Warn("Pushgateway unavailable, continuing without push", zap.Error(err))
		} else {
			pusher.Start(cfg.PushInterval)
			defer pusher.Stop()
		}
	}

	// --- HTTP ---
	httpServer := startHTTPServer(cfg, api.NewHandler(store, reconciler, logger), logger)

	// --- Consumer ---
	consumer := messaging.NewBatchConsumer(conn, cfg.RabbitMQ, runner, logger)
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	logger.Info("Waiting for messages. Press CTRL+C to exit")
	<-ctx.Done()
	logger.Info("Shutdown signal received...")

	if err := consumer.Stop(); err != nil {
		logger.Error("Error stopping consumer", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server stopped.")
	}
	return nil
}

func setupStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.TaskRecordStore, func(), error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return repository.NewMemoryTaskStore(), func() {}, nil
	}

	if cfg.Store.RunMigrations {
		if err := repository.ApplyMigrations(cfg.Store.GetDSN(), logger); err != nil {
			return nil, nil, err
		}
	}

	pool, err := repository.NewPostgresPool(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewPgTaskStore(pool, cfg.Store.MetadataTable, cfg.Store.TasksTable, logger)
	return store, pool.Close, nil
}

func setupBlobPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.BlobPublisher, error) {
	if cfg.Blob.Driver == config.BlobDriverFS {
		return storage.NewFSPublisher(cfg.Blob.LocalDir, cfg.Blob.PublicBaseURL, logger)
	}
	client, err := storage.NewS3Client(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	return storage.NewS3Publisher(client, cfg.Blob.Bucket, logger), nil
}

func startHTTPServer(cfg *config.Config, handler *api.Handler, logger *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPServerPort,
		Handler:      api.NewRouter(handler, worker.Registry(), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.HTTPServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()
	return srv
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	attempt := 0
	dial := func() (*amqp.Connection, error) {
		attempt++
		return amqp.Dial(url)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", rabbitConnectAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(rabbitConnectDelay), rabbitConnectAttempts-1), ctx)
	conn, err := backoff.RetryNotifyWithData(dial, policy, notify)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", attempt, err)
	}
	logger.Info("Connected to RabbitMQ")
	return conn, nil
}
