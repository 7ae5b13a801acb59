package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AIMetrics метрики обращений к AI API.
type AIMetrics struct {
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	promptTokens     *prometheus.CounterVec
	completionTokens *prometheus.CounterVec
}

// NewAIMetrics registers the AI metrics in reg. A nil reg leaves them unregistered.
func NewAIMetrics(reg prometheus.Registerer) *AIMetrics {
	factory := promauto.With(reg)
	return &AIMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_text_worker_ai_requests_total",
				Help: "Total number of requests to the AI API.",
			},
			[]string{"model", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "story_text_worker_ai_request_duration_seconds",
				Help:    "Histogram of AI API request durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		promptTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_text_worker_ai_prompt_tokens_total",
				Help: "Prompt tokens sent to the AI API (estimated when the API omits usage).",
			},
			[]string{"model"},
		),
		completionTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_text_worker_ai_completion_tokens_total",
				Help: "Completion tokens returned by the AI API.",
			},
			[]string{"model"},
		),
	}
}

func (m *AIMetrics) observeRequest(model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(model, status).Inc()
	m.duration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *AIMetrics) observeUsage(model string, usage UsageInfo) {
	if m == nil {
		return
	}
	m.promptTokens.WithLabelValues(model).Add(float64(usage.PromptTokens))
	m.completionTokens.WithLabelValues(model).Add(float64(usage.CompletionTokens))
}
