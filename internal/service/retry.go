package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

// RetryPolicy ограничивает повторные попытки генерации.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

type retryingGenerator struct {
	next   TextGenerator
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingGenerator retries next with exponential backoff and jitter. Once the attempts
// are exhausted the last failure is returned wrapped in model.ErrGeneration.
func NewRetryingGenerator(next TextGenerator, policy RetryPolicy, log *zap.Logger) TextGenerator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryingGenerator{next: next, policy: policy, logger: log.Named("RetryingGenerator")}
}

func (g *retryingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0

	attempts := 0
	operation := func() (string, error) {
		attempts++
		attemptCtx := ctx
		if g.policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.policy.AttemptTimeout)
			defer cancel()
		}
		out, err := g.next.Generate(attemptCtx, prompt)
		if err != nil && (ctx.Err() != nil || isClientError(err)) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Generation attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", g.policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.policy.MaxAttempts-1)), ctx)
	out, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if errors.Is(err, model.ErrGeneration) {
			return "", fmt.Errorf("after %d attempt(s): %w", attempts, err)
		}
		return "", fmt.Errorf("%w: after %d attempt(s): %w", model.ErrGeneration, attempts, err)
	}
	return out, nil
}

// isClientError reports a 4xx answer from the generation API that a retry cannot fix.
// 408 and 429 stay retryable.
func isClientError(err error) bool {
	var (
		apiErr    *openaigo.APIError
		reqErr    *openaigo.RequestError
		ollamaErr api.StatusError
		status    int
	)
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.As(err, &ollamaErr):
		status = ollamaErr.StatusCode
	default:
		return false
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
