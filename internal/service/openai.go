package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"story-text-worker/internal/config"
	"story-text-worker/internal/model"
)

// fallbackEncoding используется для оценки токенов, если модель неизвестна tiktoken.
const fallbackEncoding = "cl100k_base"

// openAIGenerator реализует TextGenerator с использованием go-openai
type openAIGenerator struct {
	client       *openaigo.Client
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
	metrics      *AIMetrics
	logger       *zap.Logger
}

// NewOpenAIGenerator creates a generator for any OpenAI-compatible chat completion API.
func NewOpenAIGenerator(cfg config.GeneratorConfig, systemPrompt string, metrics *AIMetrics, log *zap.Logger) TextGenerator {
	openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
	if cfg.AIBaseURL != "" {
		openaiConfig.BaseURL = cfg.AIBaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}

	log = log.Named("OpenAIGenerator")
	log.Info("OpenAI client created",
		zap.String("base_url", openaiConfig.BaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)

	return &openAIGenerator{
		client:       openaigo.NewClientWithConfig(openaiConfig),
		model:        cfg.AIModel,
		systemPrompt: systemPrompt,
		temperature:  cfg.AITemperature,
		maxTokens:    cfg.AIMaxTokens,
		metrics:      metrics,
		logger:       log,
	}
}

func (g *openAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := openaigo.ChatCompletionRequest{
		Model: g.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: g.systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		g.metrics.observeRequest(g.model, "error", duration)
		g.logger.Warn("AI API request failed", zap.Duration("duration", duration), zap.Error(err))
		return "", fmt.Errorf("%w: %w", model.ErrGeneration, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		g.metrics.observeRequest(g.model, "error_empty_response", duration)
		g.logger.Warn("AI API returned an empty response", zap.Duration("duration", duration))
		return "", fmt.Errorf("%w: empty response", model.ErrGeneration)
	}
	g.metrics.observeRequest(g.model, "success", duration)

	content := resp.Choices[0].Message.Content
	usage := UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		// Некоторые совместимые API не возвращают usage
		usage = g.estimateUsage(prompt, content)
	}
	g.metrics.observeUsage(g.model, usage)

	g.logger.Debug("AI API responded",
		zap.Duration("duration", duration),
		zap.Int("response_length", len(content)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
	return content, nil
}

func (g *openAIGenerator) estimateUsage(prompt, content string) UsageInfo {
	tke, err := tiktoken.EncodingForModel(g.model)
	if err != nil {
		tke, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		g.logger.Warn("Could not get tokenizer to estimate usage", zap.String("model", g.model), zap.Error(err))
		return UsageInfo{}
	}
	promptTokens := len(tke.Encode(g.systemPrompt, nil, nil)) + len(tke.Encode(prompt, nil, nil))
	completionTokens := len(tke.Encode(content, nil, nil))
	return UsageInfo{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
