package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/upb/llm-governance-gateway/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
)

// OpenAIAdapter implements the Provider interface for OpenAI-compatible APIs
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OpenAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// ChatCompletion performs a chat completion request
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	if req.Model == "" {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", "model is required", http.StatusBadRequest, false, nil)
	}

	reqBody, err := json.Marshal(a.buildOpenAIRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	// Retry while the provider reports a retryable failure
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, a.config.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, providers.NewProviderError(a.Name(), "CANCELED", "request canceled", 0, false, err)
			}
		}

		resp, err := a.attempt(ctx, reqBody, startTime)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !providers.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// attempt sends one request and converts every failure into a ProviderError
func (a *OpenAIAdapter) attempt(ctx context.Context, reqBody []byte, startTime time.Time) (*providers.ChatResponse, error) {
	httpResp, err := a.do(ctx, reqBody)
	if err != nil {
		retryable := ctx.Err() == nil
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, retryable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return a.convertToUnifiedResponse(&openaiResp, time.Since(startTime)), nil
}

func (a *OpenAIAdapter) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	if a.config.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", a.config.OrgID)
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return a.httpClient.Do(httpReq)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsAvailable checks if the provider is currently available
func (a *OpenAIAdapter) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/models", nil)
	if err != nil {
		return false
	}

	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// buildOpenAIRequest converts unified request to OpenAI format
func (a *OpenAIAdapter) buildOpenAIRequest(req *providers.ChatRequest) *OpenAIChatRequest {
	openaiReq := &OpenAIChatRequest{
		Model:    req.Model,
		Messages: make([]OpenAIMessage, len(req.Messages)),
		Stop:     req.Stop,
	}

	for i, msg := range req.Messages {
		openaiReq.Messages[i] = OpenAIMessage{Role: msg.Role, Content: msg.Content}
	}

	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		openaiReq.Temperature = &req.Temperature
	}
	if req.TopP > 0 {
		openaiReq.TopP = &req.TopP
	}
	if req.User != "" {
		openaiReq.User = &req.User
	}

	return openaiReq
}

// convertToUnifiedResponse converts OpenAI response to unified format
func (a *OpenAIAdapter) convertToUnifiedResponse(openaiResp *OpenAIChatResponse, latency time.Duration) *providers.ChatResponse {
	resp := &providers.ChatResponse{
		ID:       openaiResp.ID,
		Model:    openaiResp.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(openaiResp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
			TotalTokens:      openaiResp.Usage.TotalTokens,
		},
		Latency: latency,
	}

	for i, choice := range openaiResp.Choices {
		resp.Choices[i] = providers.Choice{
			Index:        choice.Index,
			Message:      providers.Message{Role: choice.Message.Role, Content: choice.Message.Content},
			FinishReason: choice.FinishReason,
		}
	}

	return resp
}

// handleErrorResponse handles OpenAI error responses
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	var errResp OpenAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, retryable, err)
	}

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		retryable,
		errors.New(errResp.Error.Message),
	)
}

// OpenAI-specific request/response types

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	User        *string         `json:"user,omitempty"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
