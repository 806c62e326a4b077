package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-governance-gateway/services/providers"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *OpenAIAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OrgID:      "org-1",
		Headers:    map[string]string{"X-Custom": "yes"},
	})
}

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"})

	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}
	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}
	if adapter.httpClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", adapter.httpClient.Timeout)
	}
}

func TestOpenAIAdapter_ChatCompletion(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))

		var body OpenAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "hello", body.Messages[0].Content)
		require.NotNil(t, body.MaxTokens)
		assert.Equal(t, 64, *body.MaxTokens)
		assert.Nil(t, body.Temperature)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OpenAIChatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []OpenAIChoice{{
				Message:      OpenAIMessage{Role: "assistant", Content: "hi there"},
				FinishReason: "stop",
			}},
			Usage: OpenAIUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		})
	})

	resp, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Model:     "gpt-4o-mini",
		Messages:  []providers.Message{{Role: "user", Content: "hello"}},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "hi there", resp.Content())
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestOpenAIAdapter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body OpenAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model, "body must be resent on every attempt")

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(OpenAIChatResponse{
			ID:      "chatcmpl-2",
			Choices: []OpenAIChoice{{Message: OpenAIMessage{Role: "assistant", Content: "ok"}}},
		})
	})

	resp, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIAdapter_RetriesOnlyRetryableErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		calls  int32
	}{
		{name: "client error is final", status: http.StatusBadRequest, calls: 1},
		{name: "unauthorized is final", status: http.StatusUnauthorized, calls: 1},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, calls: 3},
		{name: "server error is retried", status: http.StatusInternalServerError, calls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})

			_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
				Model:    "gpt-4o",
				Messages: []providers.Message{{Role: "user", Content: "x"}},
			})
			require.Error(t, err)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestOpenAIAdapter_MalformedResponseIsFinal(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "x"}},
	})

	var provErr *providers.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "UNMARSHAL_ERROR", provErr.Code)
	assert.False(t, providers.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIAdapter_ErrorResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      string
		retryable bool
	}{
		{
			name:   "invalid request",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"bad model","type":"invalid_request_error"}}`,
			code:   "invalid_request_error",
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			code:      "rate_limit_error",
			retryable: true,
		},
		{
			name:      "server error with plain body",
			status:    http.StatusBadGateway,
			body:      `upstream unavailable`,
			code:      "UNKNOWN_ERROR",
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
				Model:    "gpt-4o",
				Messages: []providers.Message{{Role: "user", Content: "x"}},
			})
			require.Error(t, err)

			var provErr *providers.ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, tt.code, provErr.Code)
			assert.Equal(t, tt.retryable, providers.IsRetryable(err))
		})
	}
}

func TestOpenAIAdapter_MissingModel(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{})

	var provErr *providers.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "INVALID_MODEL", provErr.Code)
}

func TestOpenAIAdapter_CanceledDuringRetry(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	adapter.config.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.ChatCompletion(ctx, &providers.ChatRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIAdapter_IsAvailable(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, adapter.IsAvailable(context.Background()))

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.False(t, down.IsAvailable(context.Background()))
}
