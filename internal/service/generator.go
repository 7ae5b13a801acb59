package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"story-text-worker/internal/config"
)

// defaultSystemPrompt используется, если AI_SYSTEM_PROMPT не задан.
const defaultSystemPrompt = `You are a storyteller for short narrated videos.
Expand the user's idea into a short story split into scenes.
Respond with a JSON array only, no prose and no markdown. Each element must be an object
with two string fields: "text" (the narration for the scene) and "imagePrompt" (a concise
visual description for an illustration of the scene).`

// TextGenerator expands a story prompt into raw generator output.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// UsageInfo содержит информацию об использовании токенов.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewTextGenerator builds the generator selected by GENERATOR_POLICY. Remote policies are
// wrapped in the retry decorator; the placeholder policy never fails and is returned as is.
func NewTextGenerator(cfg config.GeneratorConfig, metrics *AIMetrics, log *zap.Logger) (TextGenerator, error) {
	systemPrompt := cfg.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	var remote TextGenerator
	switch strings.ToLower(cfg.Policy) {
	case config.GeneratorPlaceholder:
		log.Info("Using placeholder text generator")
		return NewPlaceholderGenerator(), nil
	case config.GeneratorOpenAI:
		remote = NewOpenAIGenerator(cfg, systemPrompt, metrics, log)
	case config.GeneratorOllama:
		g, err := NewOllamaGenerator(cfg, systemPrompt, metrics, log)
		if err != nil {
			return nil, err
		}
		remote = g
	default:
		return nil, fmt.Errorf("unknown generator policy '%s'", cfg.Policy)
	}

	return NewRetryingGenerator(remote, RetryPolicy{
		MaxAttempts:    cfg.AIMaxAttempts,
		BaseDelay:      cfg.AIBaseRetry,
		AttemptTimeout: cfg.AITimeout,
	}, log), nil
}
