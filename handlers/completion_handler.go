package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/services/inference"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// Credential headers forwarded to the pipeline
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
)

// Request metadata keys the handler fills from headers
const (
	MetadataAuthorization = "authorization"
	MetadataAPIKey        = "x-api-key"
	MetadataTenantID      = "x-tenant-id"
	MetadataClientIP      = "x-client-ip"
)

// CompletionService defines the interface for governed completions
type CompletionService interface {
	Complete(ctx context.Context, tenantID string, req inference.CompletionRequest) (*inference.CompletionResponse, error)
}

// CompletionHandler handles completion HTTP requests
type CompletionHandler struct {
	service CompletionService
	logger  *zap.Logger
}

// NewCompletionHandler creates a new CompletionHandler
func NewCompletionHandler(service CompletionService, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCompletion handles POST /api/v1/completions
func (h *CompletionHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimw.GetReqID(ctx)

	// Set by TenantMiddleware
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == "" {
		_ = utils.WriteBadRequest(w, "Missing tenant", nil)
		return
	}

	var req inference.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if req.RequestID == "" {
		req.RequestID = requestID
	}
	req.Metadata = requestMetadata(r, req.Metadata, tenantID)

	resp, err := h.service.Complete(ctx, tenantID, req)
	if err != nil {
		h.logger.Info("completion rejected",
			zap.String("request_id", req.RequestID),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
	}
}

// requestMetadata merges client metadata with values taken from headers.
// Header values win so a body cannot supply credentials for another caller.
func requestMetadata(r *http.Request, fromBody map[string]string, tenantID string) map[string]string {
	md := make(map[string]string, len(fromBody)+4)
	for k, v := range fromBody {
		md[k] = v
	}
	delete(md, MetadataAuthorization)
	delete(md, MetadataAPIKey)

	if v := r.Header.Get(HeaderAuthorization); v != "" {
		md[MetadataAuthorization] = v
	}
	if v := r.Header.Get(HeaderAPIKey); v != "" {
		md[MetadataAPIKey] = v
	}
	md[MetadataTenantID] = tenantID
	md[MetadataClientIP] = r.RemoteAddr
	return md
}
