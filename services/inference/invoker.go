package inference

import (
	"context"
	"fmt"
	"strconv"

	"github.com/upb/llm-governance-gateway/services/pipeline"
	"github.com/upb/llm-governance-gateway/services/providers"
	"go.uber.org/zap"
)

// ProviderInvoker calls an LLM provider as the pipeline backend
type ProviderInvoker struct {
	provider     providers.Provider
	defaultModel string
	logger       *zap.Logger
}

// NewProviderInvoker creates an invoker for provider. defaultModel is used
// when a request does not name a model.
func NewProviderInvoker(provider providers.Provider, defaultModel string, logger *zap.Logger) *ProviderInvoker {
	return &ProviderInvoker{
		provider:     provider,
		defaultModel: defaultModel,
		logger:       logger.Named("invoker"),
	}
}

// Name returns the provider name
func (i *ProviderInvoker) Name() string {
	return i.provider.Name()
}

// Invoke sends the processed prompt to the provider
func (i *ProviderInvoker) Invoke(ctx context.Context, req pipeline.RequestEnvelope) (pipeline.ResponseEnvelope, error) {
	chatReq := i.buildChatRequest(req)

	resp, err := i.provider.ChatCompletion(ctx, chatReq)
	if err != nil {
		return pipeline.ResponseEnvelope{}, fmt.Errorf("chat completion: %w", err)
	}

	i.logger.Debug("provider responded",
		zap.String("request_id", req.ID),
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", resp.Latency))

	metadata := map[string]string{
		MetadataPromptTokens:     strconv.Itoa(resp.Usage.PromptTokens),
		MetadataCompletionTokens: strconv.Itoa(resp.Usage.CompletionTokens),
		MetadataTotalTokens:      strconv.Itoa(resp.Usage.TotalTokens),
		MetadataModel:            resp.Model,
		MetadataProvider:         i.provider.Name(),
	}
	if len(resp.Choices) > 0 && resp.Choices[0].FinishReason != "" {
		metadata[MetadataFinishReason] = resp.Choices[0].FinishReason
	}

	return pipeline.ResponseEnvelope{
		ID:       req.ID,
		Content:  resp.Content(),
		Metadata: metadata,
		Duration: resp.Latency,
	}, nil
}

func (i *ProviderInvoker) buildChatRequest(req pipeline.RequestEnvelope) *providers.ChatRequest {
	params := req.Parameters

	chatReq := &providers.ChatRequest{
		Model:       stringParam(params, ParamModel, i.defaultModel),
		MaxTokens:   int(floatParam(params, ParamMaxTokens)),
		Temperature: floatParam(params, ParamTemperature),
		TopP:        floatParam(params, ParamTopP),
		User:        req.MetadataValue("x-subject"),
	}
	if stop, ok := params[ParamStop].([]string); ok {
		chatReq.Stop = stop
	}

	// The governed prompt is the only text the backend sees
	chatReq.Messages = []providers.Message{{Role: "user", Content: req.Prompt}}

	return chatReq
}

func stringParam(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}
