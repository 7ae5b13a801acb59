package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"story-text-worker/internal/config"
	"story-text-worker/internal/model"
)

// ollamaGenerator реализует TextGenerator с использованием ollama/api
type ollamaGenerator struct {
	client       *api.Client
	model        string
	systemPrompt string
	options      map[string]interface{}
	metrics      *AIMetrics
	logger       *zap.Logger
}

// NewOllamaGenerator creates a generator backed by the native Ollama chat API.
func NewOllamaGenerator(cfg config.GeneratorConfig, systemPrompt string, metrics *AIMetrics, log *zap.Logger) (TextGenerator, error) {
	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL '%s': %w", baseURL, err)
	}

	options := map[string]interface{}{
		"temperature": cfg.AITemperature,
	}
	if cfg.AIMaxTokens > 0 {
		options["num_predict"] = cfg.AIMaxTokens
	}

	log = log.Named("OllamaGenerator")
	log.Info("Ollama client created", zap.String("base_url", baseURL), zap.String("model", cfg.AIModel))

	return &ollamaGenerator{
		client:       api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout}),
		model:        cfg.AIModel,
		systemPrompt: systemPrompt,
		options:      options,
		metrics:      metrics,
		logger:       log,
	}, nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: g.model,
		Messages: []api.Message{
			{Role: "system", Content: g.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream:  &stream,
		Options: g.options,
	}

	start := time.Now()
	var resp api.ChatResponse
	err := g.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		g.metrics.observeRequest(g.model, "error", duration)
		g.logger.Warn("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		return "", fmt.Errorf("%w: %w", model.ErrGeneration, err)
	}

	if resp.Message.Content == "" {
		g.metrics.observeRequest(g.model, "error_empty_response", duration)
		return "", fmt.Errorf("%w: empty response", model.ErrGeneration)
	}
	g.metrics.observeRequest(g.model, "success", duration)
	g.metrics.observeUsage(g.model, UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	})

	g.logger.Debug("Ollama responded", zap.Duration("duration", duration), zap.Int("response_length", len(resp.Message.Content)))
	return resp.Message.Content, nil
}
