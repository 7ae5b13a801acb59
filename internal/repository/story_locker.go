package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

// Compile-time check
var (
	_ StoryLocker = (*redisStoryLocker)(nil)
	_ StoryLocker = NoopStoryLocker{}
)

const storyLockKeyPrefix = "lock:story:"

// releaseScript удаляет ключ, только если он все еще принадлежит нашему токену.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStoryLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStoryLocker creates a StoryLocker based on SET NX PX.
func NewRedisStoryLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) StoryLocker {
	return &redisStoryLocker{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisStoryLocker"),
	}
}

func (l *redisStoryLocker) Acquire(ctx context.Context, storyID string) (ReleaseFunc, error) {
	key := storyLockKeyPrefix + storyID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire story lock", zap.String("story_id", storyID), zap.Error(err))
		return nil, fmt.Errorf("acquire lock for story %s: %w", storyID, err)
	}
	if !ok {
		l.logger.Info("Story is locked by another worker", zap.String("story_id", storyID))
		return nil, fmt.Errorf("story %s: %w", storyID, model.ErrStoryLocked)
	}
	l.logger.Debug("Story lock acquired", zap.String("story_id", storyID), zap.Duration("ttl", l.ttl))

	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock for story %s: %w", storyID, err)
		}
		if deleted == 0 {
			l.logger.Warn("Story lock expired before release", zap.String("story_id", storyID))
		}
		return nil
	}, nil
}

// NoopStoryLocker is used when REDIS_URL is empty.
type NoopStoryLocker struct{}

func (NoopStoryLocker) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// NewRedisClient подключается к Redis по URL и проверяет соединение.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
