package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

const jobName = "story_text_worker"

// Причины неудач для метки reason
const (
	reasonDecode       = "decode_error"
	reasonTaskType     = "invalid_task_type"
	reasonLocked       = "story_locked"
	reasonGeneration   = "generation_error"
	reasonValidation   = "validation_error"
	reasonStoreWrite   = "store_write_error"
	reasonStoreRead    = "store_read_error"
	reasonBlob         = "blob_error"
	reasonTimeout      = "timeout"
	reasonBatch        = "batch_error"
	reasonPanic        = "panic"
	reasonInternal     = "internal_error"
	reasonNotFound     = "not_found"
	reasonNothingToFix = "nothing_to_reconcile"
)

var (
	// Общий реестр для всех метрик этого воркера
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_text_worker_tasks_received_total",
			Help: "Total number of queue records received.",
		},
	)
	tasksSucceeded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_text_worker_tasks_succeeded_total",
			Help: "Total number of stories fully processed.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_text_worker_tasks_failed_total",
			Help: "Total number of records failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSkipped = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_text_worker_tasks_skipped_total",
			Help: "Total number of records skipped because the story already has a TEXT task.",
		},
	)
	stageDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_text_worker_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)
	fanOutSize = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_text_worker_fanout_tasks",
			Help:    "Number of TTS/IMAGE tasks created per story.",
			Buckets: []float64{0, 2, 4, 8, 16, 32, 64, 128},
		},
	)
	notifyErrors = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_text_worker_notify_errors_total",
			Help: "Total number of tasks-created events that could not be published.",
		},
	)
	reconciliations = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_text_worker_reconciliations_total",
			Help: "Total number of reconcile runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Registry возвращает реестр метрик воркера (для /metrics и AI-метрик сервиса).
// Go/process коллекторы живут в prometheus.DefaultRegisterer.
func Registry() *prometheus.Registry {
	return registry
}

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// failureReason maps a pipeline error onto a low-cardinality metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrDecode):
		return reasonDecode
	case errors.Is(err, model.ErrInvalidTaskType):
		return reasonTaskType
	case errors.Is(err, model.ErrStoryLocked):
		return reasonLocked
	case errors.Is(err, model.ErrGeneration):
		return reasonGeneration
	case errors.Is(err, model.ErrValidation):
		return reasonValidation
	case errors.Is(err, model.ErrBlobWrite), errors.Is(err, model.ErrBlobRead):
		return reasonBlob
	case errors.Is(err, model.ErrNotFound):
		return reasonNotFound
	case errors.Is(err, model.ErrStoreWrite):
		return reasonStoreWrite
	case errors.Is(err, model.ErrStoreRead):
		return reasonStoreRead
	case errors.Is(err, model.ErrNothingToReconcile):
		return reasonNothingToFix
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return reasonTimeout
	default:
		return reasonInternal
	}
}

// MetricsPusher периодически отправляет метрики в Pushgateway.
type MetricsPusher struct {
	pusher *push.Pusher
	logger *zap.Logger
	stop   chan struct{}
}

// NewMetricsPusher создает pusher для реестра воркера и сразу проверяет соединение.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	logger = logger.Named("MetricsPusher")

	p := &MetricsPusher{
		pusher: push.New(pushgatewayURL, jobName).Gatherer(registry).Grouping("instance", instanceID),
		logger: logger,
		stop:   make(chan struct{}),
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	logger.Info("Pushgateway pusher initialized", zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return p, nil
}

// Start запускает периодическую отправку до вызова Stop.
func (p *MetricsPusher) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := p.pusher.Push(); err != nil {
					p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
				}
			}
		}
	}()
}

// Stop останавливает отправку и удаляет метрики инстанса из Pushgateway.
func (p *MetricsPusher) Stop() {
	close(p.stop)
	if err := p.pusher.Delete(); err != nil {
		p.logger.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
		return
	}
	p.logger.Info("Metrics deleted from Pushgateway")
}
