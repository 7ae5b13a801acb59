package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-text-worker/internal/config"
	"story-text-worker/internal/mocks"
	"story-text-worker/internal/model"
	"story-text-worker/internal/schemas"
	"story-text-worker/internal/service"
)

func TestPlaceholderGenerator(t *testing.T) {
	gen := service.NewPlaceholderGenerator()

	out, err := gen.Generate(context.Background(), "a fox")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text":"A FOX","imagePrompt":"a fox"}]`, out)

	segments, err := schemas.ParseSegments(out)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "A FOX", segments[0].Text)
	assert.Equal(t, "a fox", segments[0].ImagePrompt)

	again, err := gen.Generate(context.Background(), "a fox")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestRetryingGenerator(t *testing.T) {
	policy := service.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		next := mocks.NewMockTextGenerator(t)
		next.On("Generate", mock.Anything, "a fox").Return("", errors.New("503")).Twice()
		next.On("Generate", mock.Anything, "a fox").Return(`[]`, nil).Once()

		out, err := service.NewRetryingGenerator(next, policy, zap.NewNop()).Generate(context.Background(), "a fox")
		require.NoError(t, err)
		assert.Equal(t, `[]`, out)
		next.AssertExpectations(t)
	})

	t.Run("propagates failure after last attempt", func(t *testing.T) {
		next := mocks.NewMockTextGenerator(t)
		next.On("Generate", mock.Anything, "a fox").Return("", errors.New("connection refused")).Times(3)

		out, err := service.NewRetryingGenerator(next, policy, zap.NewNop()).Generate(context.Background(), "a fox")
		require.Error(t, err)
		assert.Empty(t, out)
		assert.ErrorIs(t, err, model.ErrGeneration)
		assert.Contains(t, err.Error(), "3 attempt(s)")
		assert.Contains(t, err.Error(), "connection refused")
		next.AssertExpectations(t)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		next := mocks.NewMockTextGenerator(t)
		next.On("Generate", mock.Anything, "a fox").Return("", errors.New("boom")).Once().Run(func(mock.Arguments) {
			cancel()
		})

		_, err := service.NewRetryingGenerator(next, policy, zap.NewNop()).Generate(ctx, "a fox")
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrGeneration)
		next.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		next := mocks.NewMockTextGenerator(t)
		apiErr := &openaigo.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid api key"}
		next.On("Generate", mock.Anything, "a fox").Return("", fmt.Errorf("%w: %w", model.ErrGeneration, apiErr)).Once()

		_, err := service.NewRetryingGenerator(next, policy, zap.NewNop()).Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
		assert.ErrorAs(t, err, &apiErr)
		next.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("rate limits are retried", func(t *testing.T) {
		next := mocks.NewMockTextGenerator(t)
		next.On("Generate", mock.Anything, "a fox").
			Return("", &openaigo.APIError{HTTPStatusCode: http.StatusTooManyRequests}).Once()
		next.On("Generate", mock.Anything, "a fox").
			Return("", api.StatusError{StatusCode: http.StatusServiceUnavailable}).Once()
		next.On("Generate", mock.Anything, "a fox").Return(`[]`, nil).Once()

		out, err := service.NewRetryingGenerator(next, policy, zap.NewNop()).Generate(context.Background(), "a fox")
		require.NoError(t, err)
		assert.Equal(t, `[]`, out)
		next.AssertExpectations(t)
	})

	t.Run("ollama bad request is not retried", func(t *testing.T) {
		next := mocks.NewMockTextGenerator(t)
		next.On("Generate", mock.Anything, "a fox").
			Return("", api.StatusError{StatusCode: http.StatusBadRequest, ErrorMessage: "model not found"}).Once()

		_, err := service.NewRetryingGenerator(next, policy, zap.NewNop()).Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
		next.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("single attempt", func(t *testing.T) {
		next := mocks.NewMockTextGenerator(t)
		next.On("Generate", mock.Anything, "a fox").Return("", model.ErrGeneration).Once()

		_, err := service.NewRetryingGenerator(next, service.RetryPolicy{MaxAttempts: 1}, zap.NewNop()).Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
		next.AssertExpectations(t)
	})
}

func openAIServer(t *testing.T, status int, response string) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func openAIConfig(baseURL string) config.GeneratorConfig {
	return config.GeneratorConfig{
		Policy:        config.GeneratorOpenAI,
		AIBaseURL:     baseURL + "/v1",
		AIModel:       "gpt-4o-mini",
		AITimeout:     5 * time.Second,
		AIMaxAttempts: 1,
		AITemperature: 0.5,
		AIAPIKey:      "test-key",
	}
}

func TestOpenAIGenerator(t *testing.T) {
	t.Run("returns first choice content", func(t *testing.T) {
		srv, requests := openAIServer(t, http.StatusOK, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "[{\"text\":\"t\",\"imagePrompt\":\"p\"}]"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)

		gen := service.NewOpenAIGenerator(openAIConfig(srv.URL), "system instruction", service.NewAIMetrics(nil), zap.NewNop())
		out, err := gen.Generate(context.Background(), "a fox")
		require.NoError(t, err)
		assert.Equal(t, `[{"text":"t","imagePrompt":"p"}]`, out)

		require.Len(t, *requests, 1)
		req := (*requests)[0]
		assert.Equal(t, "gpt-4o-mini", req["model"])
		messages := req["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, "system instruction", messages[0].(map[string]any)["content"])
		assert.Equal(t, "user", messages[1].(map[string]any)["role"])
		assert.Equal(t, "a fox", messages[1].(map[string]any)["content"])
	})

	t.Run("empty choices is a generation error", func(t *testing.T) {
		srv, _ := openAIServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":0,"total_tokens":1}}`)

		gen := service.NewOpenAIGenerator(openAIConfig(srv.URL), "sys", nil, zap.NewNop())
		_, err := gen.Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
	})

	t.Run("api error is a generation error", func(t *testing.T) {
		srv, _ := openAIServer(t, http.StatusInternalServerError, `{"error":{"message":"overloaded","type":"server_error"}}`)

		gen := service.NewOpenAIGenerator(openAIConfig(srv.URL), "sys", nil, zap.NewNop())
		_, err := gen.Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
	})
}

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req["model"])
		assert.Equal(t, false, req["stream"])

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3","created_at":"2024-05-01T10:00:00Z","message":{"role":"assistant","content":"[]"},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":2}` + "\n"))
	}))
	defer srv.Close()

	cfg := config.GeneratorConfig{Policy: config.GeneratorOllama, AIBaseURL: srv.URL + "/v1", AIModel: "llama3", AITimeout: 5 * time.Second}
	gen, err := service.NewOllamaGenerator(cfg, "sys", service.NewAIMetrics(nil), zap.NewNop())
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), "a fox")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestNewTextGenerator(t *testing.T) {
	t.Run("placeholder", func(t *testing.T) {
		gen, err := service.NewTextGenerator(config.GeneratorConfig{Policy: "placeholder"}, nil, zap.NewNop())
		require.NoError(t, err)
		out, err := gen.Generate(context.Background(), "x")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"text":"X","imagePrompt":"x"}]`, out)
	})

	t.Run("openai wrapped in retries", func(t *testing.T) {
		srv, requests := openAIServer(t, http.StatusInternalServerError, `{"error":{"message":"down"}}`)
		cfg := openAIConfig(srv.URL)
		cfg.AIMaxAttempts = 2
		cfg.AIBaseRetry = time.Millisecond

		gen, err := service.NewTextGenerator(cfg, nil, zap.NewNop())
		require.NoError(t, err)
		_, err = gen.Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
		assert.Len(t, *requests, 2)
	})

	t.Run("openai unauthorized is not retried", func(t *testing.T) {
		srv, requests := openAIServer(t, http.StatusUnauthorized,
			`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
		cfg := openAIConfig(srv.URL)
		cfg.AIMaxAttempts = 3
		cfg.AIBaseRetry = time.Millisecond

		gen, err := service.NewTextGenerator(cfg, nil, zap.NewNop())
		require.NoError(t, err)
		_, err = gen.Generate(context.Background(), "a fox")
		assert.ErrorIs(t, err, model.ErrGeneration)
		assert.Len(t, *requests, 1)
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := service.NewTextGenerator(config.GeneratorConfig{Policy: "magic"}, nil, zap.NewNop())
		assert.Error(t, err)
	})
}
