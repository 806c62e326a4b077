// Package inference exposes the governed completion service and the
// provider-backed pipeline invoker.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-governance-gateway/internal/policy"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// Processor runs a request through the plugin pipeline
type Processor interface {
	Process(ctx context.Context, req pipeline.RequestEnvelope, profile pipeline.ClientProfile) (pipeline.ResponseEnvelope, error)
}

// Service resolves tenants and runs completions through the pipeline
type Service struct {
	pipeline Processor
	tenants  policy.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new inference service
func NewService(p Processor, tenants policy.Resolver, logger *zap.Logger) *Service {
	return &Service{
		pipeline: p,
		tenants:  tenants,
		logger:   logger.Named("inference"),
		now:      time.Now,
	}
}

// Complete validates req, resolves the tenant and processes the request
func (s *Service) Complete(ctx context.Context, tenantID string, req CompletionRequest) (*CompletionResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	tenant, ok := s.tenants.Tenant(tenantID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, tenantID)
	}

	envelope := pipeline.NewRequestEnvelope(req.RequestID, req.Prompt, req.parameters(), req.Metadata)
	start := s.now()

	s.logger.Debug("completion requested",
		zap.String("request_id", envelope.ID),
		zap.String("tenant_id", tenantID))

	resp, err := s.pipeline.Process(ctx, envelope, tenant.Profile)
	if err != nil {
		return nil, err
	}

	return &CompletionResponse{
		RequestID: envelope.ID,
		TenantID:  tenantID,
		Content:   resp.Content,
		Metadata:  resp.Metadata,
		LatencyMs: resp.Duration.Milliseconds(),
		CreatedAt: start,
	}, nil
}
