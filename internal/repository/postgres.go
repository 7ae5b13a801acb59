package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"story-text-worker/internal/config"
)

const (
	dbConnectAttempts = 20
	dbConnectDelay    = 3 * time.Second
	dbPingTimeout     = 5 * time.Second
)

// NewPostgresPool инициализирует пул соединений с БД, повторяя попытки, пока база не станет доступна.
func NewPostgresPool(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		// DSN некорректен, нет смысла пытаться дальше
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	attempt := 0
	connect := func() (*pgxpool.Pool, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
		defer cancel()

		pool, err := pgxpool.NewWithConfig(attemptCtx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(attemptCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("PostgreSQL is not reachable yet",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", dbConnectAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(dbConnectDelay), dbConnectAttempts-1), ctx)
	pool, err := backoff.RetryNotifyWithData(connect, policy, notify)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", attempt, err)
	}
	log.Info("Connected to PostgreSQL", zap.String("dsn", cfg.MaskedDSN()), zap.Int("attempt", attempt))
	return pool, nil
}
