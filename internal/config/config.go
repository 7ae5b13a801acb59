package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"story-text-worker/internal/logger"
	"story-text-worker/internal/model"
)

// Допустимые значения переключателей реализаций
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	BlobDriverS3 = "s3"
	BlobDriverFS = "fs"

	// Таблицы, которые создают встроенные миграции
	MigratedMetadataTable = "story_metadata"
	MigratedTasksTable    = "video_tasks"

	GeneratorPlaceholder = "placeholder"
	GeneratorOpenAI      = "openai"
	GeneratorOllama      = "ollama"
)

// Config содержит конфигурацию воркера обработки текста историй.
type Config struct {
	AppEnv    string `env:"APP_ENV" env-default:"development"`
	Logger    logger.Config
	RabbitMQ  RabbitMQConfig
	Store     StoreConfig
	Blob      BlobConfig
	Generator GeneratorConfig
	Redis     RedisConfig

	HTTPServerPort string        `env:"HTTP_SERVER_PORT" env-default:"8080"`
	PushgatewayURL string        `env:"PUSHGATEWAY_URL"`
	PushInterval   time.Duration `env:"PUSHGATEWAY_INTERVAL" env-default:"15s"`
}

// RabbitMQConfig настройки очереди задач и exchange событий.
type RabbitMQConfig struct {
	URL            string        `env:"RABBITMQ_URL" env-required:"true"`
	TaskQueue      string        `env:"RABBITMQ_TASK_QUEUE" env-default:"story_text_tasks"`
	DeadLetterX    string        `env:"RABBITMQ_DLX" env-default:"story_text_tasks_dlx"`
	DeadLetterQ    string        `env:"RABBITMQ_DLQ" env-default:"story_text_tasks_dlq"`
	EventsExchange string        `env:"RABBITMQ_EVENTS_EXCHANGE" env-default:"story_task_events"`
	ConsumerTag    string        `env:"RABBITMQ_CONSUMER_TAG" env-default:"story-text-worker"`
	BatchSize      int           `env:"BATCH_SIZE" env-default:"10"`
	FlushInterval  time.Duration `env:"BATCH_FLUSH_INTERVAL" env-default:"2s"`
	ItemTimeout    time.Duration `env:"ITEM_TIMEOUT" env-default:"5m"`
}

// StoreConfig настройки хранилища метаданных и задач.
type StoreConfig struct {
	Driver        string        `env:"STORE_DRIVER" env-default:"postgres"`
	MetadataTable string        `env:"METADATA_TABLE" env-required:"true"`
	TasksTable    string        `env:"TASKS_TABLE" env-required:"true"`
	DBHost        string        `env:"DB_HOST" env-default:"localhost"`
	DBPort        string        `env:"DB_PORT" env-default:"5432"`
	DBUser        string        `env:"DB_USER" env-default:"postgres"`
	DBName        string        `env:"DB_NAME" env-default:"stories"`
	DBSSLMode     string        `env:"DB_SSL_MODE" env-default:"disable"`
	DBMaxConns    int           `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	DBIdleTimeout time.Duration `env:"DB_MAX_IDLE_TIME" env-default:"5m"`
	RunMigrations bool          `env:"DB_RUN_MIGRATIONS" env-default:"true"`
	// Секрет, загружается отдельно
	DBPassword string
}

// BlobConfig настройки объектного хранилища.
type BlobConfig struct {
	Driver        string `env:"BLOB_DRIVER" env-default:"s3"`
	Bucket        string `env:"BLOB_BUCKET"`
	Region        string `env:"BLOB_REGION" env-default:"us-east-1"`
	Endpoint      string `env:"BLOB_ENDPOINT"`
	UsePathStyle  bool   `env:"BLOB_USE_PATH_STYLE" env-default:"false"`
	LocalDir      string `env:"BLOB_LOCAL_DIR" env-default:"./data/blobs"`
	PublicBaseURL string `env:"BLOB_PUBLIC_BASE_URL" env-default:"file://"`
}

// GeneratorConfig настройки генерации текста.
type GeneratorConfig struct {
	Policy        string        `env:"GENERATOR_POLICY" env-default:"openai"`
	AIBaseURL     string        `env:"AI_BASE_URL" env-default:"https://api.openai.com/v1"`
	AIModel       string        `env:"AI_MODEL" env-default:"gpt-4o-mini"`
	AITimeout     time.Duration `env:"AI_TIMEOUT" env-default:"120s"`
	AIMaxAttempts int           `env:"AI_MAX_ATTEMPTS" env-default:"3"`
	AIBaseRetry   time.Duration `env:"AI_BASE_RETRY_DELAY" env-default:"1s"`
	AITemperature float32       `env:"AI_TEMPERATURE" env-default:"0.7"`
	AIMaxTokens   int           `env:"AI_MAX_TOKENS" env-default:"0"`
	SystemPrompt  string        `env:"AI_SYSTEM_PROMPT"`
	// Секрет, загружается отдельно
	AIAPIKey string
}

// RedisConfig настройки блокировок историй. Пустой URL отключает блокировки.
type RedisConfig struct {
	URL     string        `env:"REDIS_URL"`
	LockTTL time.Duration `env:"STORY_LOCK_TTL" env-default:"10m"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *StoreConfig) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MaskedDSN возвращает DSN с замаскированным паролем для логирования
func (c *StoreConfig) MaskedDSN() string {
	return fmt.Sprintf("postgres://%s:********@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Load загружает конфигурацию из .env, переменных окружения и секретов.
func Load() (*Config, error) {
	// .env опционален
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}

	cfg.Store.DBPassword = ReadSecretOrEnv("db_password", "DB_PASSWORD")
	cfg.Generator.AIAPIKey = ReadSecretOrEnv("ai_api_key", "AI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет условно-обязательные настройки, которые cleanenv не выражает тегами.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Store.MetadataTable) == "" {
		problems = append(problems, "METADATA_TABLE is required")
	}
	if strings.TrimSpace(c.Store.TasksTable) == "" {
		problems = append(problems, "TASKS_TABLE is required")
	}
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Store.DBPassword == "" {
			problems = append(problems, "db_password secret (or DB_PASSWORD) is required for postgres store")
		}
		if c.Store.RunMigrations &&
			(c.Store.MetadataTable != MigratedMetadataTable || c.Store.TasksTable != MigratedTasksTable) {
			problems = append(problems, fmt.Sprintf(
				"custom METADATA_TABLE/TASKS_TABLE require DB_RUN_MIGRATIONS=false (migrations create %s and %s)",
				MigratedMetadataTable, MigratedTasksTable))
		}
	case StoreDriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Blob.Driver {
	case BlobDriverS3:
		if c.Blob.Bucket == "" {
			problems = append(problems, "BLOB_BUCKET is required for s3 blob driver")
		}
	case BlobDriverFS:
		if c.Blob.LocalDir == "" {
			problems = append(problems, "BLOB_LOCAL_DIR is required for fs blob driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown BLOB_DRIVER %q", c.Blob.Driver))
	}

	switch strings.ToLower(c.Generator.Policy) {
	case GeneratorOpenAI:
		if c.Generator.AIAPIKey == "" {
			problems = append(problems, "ai_api_key secret (or AI_API_KEY) is required for openai generator")
		}
	case GeneratorOllama, GeneratorPlaceholder:
	default:
		problems = append(problems, fmt.Sprintf("unknown GENERATOR_POLICY %q", c.Generator.Policy))
	}
	if c.Generator.AIMaxAttempts < 1 {
		problems = append(problems, "AI_MAX_ATTEMPTS must be at least 1")
	}

	if c.RabbitMQ.BatchSize < 1 {
		problems = append(problems, "BATCH_SIZE must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// LogSummary пишет загруженную конфигурацию без секретов.
func (c *Config) LogSummary(log *zap.Logger) {
	log.Info("Configuration loaded",
		zap.String("app_env", c.AppEnv),
		zap.String("task_queue", c.RabbitMQ.TaskQueue),
		zap.Int("batch_size", c.RabbitMQ.BatchSize),
		zap.Duration("flush_interval", c.RabbitMQ.FlushInterval),
		zap.String("store_driver", c.Store.Driver),
		zap.String("metadata_table", c.Store.MetadataTable),
		zap.String("tasks_table", c.Store.TasksTable),
		zap.String("db_dsn", c.Store.MaskedDSN()),
		zap.String("blob_driver", c.Blob.Driver),
		zap.String("blob_bucket", c.Blob.Bucket),
		zap.String("generator_policy", c.Generator.Policy),
		zap.String("ai_base_url", c.Generator.AIBaseURL),
		zap.String("ai_model", c.Generator.AIModel),
		zap.Int("ai_max_attempts", c.Generator.AIMaxAttempts),
		zap.Bool("story_lock_enabled", c.Redis.URL != ""),
		zap.String("http_port", c.HTTPServerPort),
		zap.Bool("pushgateway_enabled", c.PushgatewayURL != ""),
	)
}

// IsConfigurationError reports whether err came from configuration loading.
func IsConfigurationError(err error) bool {
	return errors.Is(err, model.ErrConfiguration)
}
