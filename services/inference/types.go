package inference

import (
	"errors"
	"time"
)

// Parameter keys understood by ProviderInvoker
const (
	ParamModel       = "model"
	ParamMaxTokens   = "max_tokens"
	ParamTemperature = "temperature"
	ParamTopP        = "top_p"
	ParamStop        = "stop"
)

// Response metadata keys written by ProviderInvoker
const (
	MetadataPromptTokens     = "prompt_tokens"
	MetadataCompletionTokens = "completion_tokens"
	MetadataTotalTokens      = "total_tokens"
	MetadataModel            = "model"
	MetadataProvider         = "provider"
	MetadataFinishReason     = "finish_reason"
)

// ErrUnknownTenant is returned when a request names a tenant that is not in the catalog
var ErrUnknownTenant = errors.New("unknown tenant")

// CompletionRequest represents an inference request from the client
type CompletionRequest struct {
	// Prompt is the user text sent through the pipeline
	Prompt string `json:"prompt" validate:"required"`

	// Model parameters
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature float64  `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	TopP        float64  `json:"top_p,omitempty" validate:"gte=0,lte=1"`
	Stop        []string `json:"stop,omitempty" validate:"max=4"`

	// Request metadata
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// parameters converts the request options into pipeline parameters
func (r CompletionRequest) parameters() map[string]any {
	params := make(map[string]any)
	if r.Model != "" {
		params[ParamModel] = r.Model
	}
	if r.MaxTokens > 0 {
		params[ParamMaxTokens] = r.MaxTokens
	}
	if r.Temperature > 0 {
		params[ParamTemperature] = r.Temperature
	}
	if r.TopP > 0 {
		params[ParamTopP] = r.TopP
	}
	if len(r.Stop) > 0 {
		params[ParamStop] = r.Stop
	}
	return params
}

// CompletionResponse represents the response from an inference request
type CompletionResponse struct {
	RequestID string            `json:"request_id"`
	TenantID  string            `json:"tenant_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	LatencyMs int64             `json:"latency_ms"`
	CreatedAt time.Time         `json:"created_at"`
}
