package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/models"
	auditsvc "github.com/upb/llm-governance-gateway/services/audit"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditReader reads stored audit records
type AuditReader interface {
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditRecord, error)
	ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.AuditRecord, error)
}

// AuditVerification is the result of checking stored records against their hashes
type AuditVerification struct {
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"request_id,omitempty"`
	Checked   int    `json:"checked"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

// AuditHandler serves read-only audit endpoints
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: logger}
}

// HandleVerify handles GET /api/v1/audit/verify
// Checks the tenant's most recent records, or the records of one request
// when request_id is given. Only the verdict is returned, never the records.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == "" {
		_ = utils.WriteBadRequest(w, "Missing tenant", nil)
		return
	}

	query := r.URL.Query()
	requestID := query.Get("request_id")

	var (
		records []*models.AuditRecord
		err     error
	)
	if requestID != "" {
		records, err = h.forRequest(ctx, tenantID, requestID)
	} else {
		limit, offset, perr := pageParams(query.Get("limit"), query.Get("offset"))
		if perr != nil {
			_ = utils.WriteBadRequest(w, perr.Error(), nil)
			return
		}
		records, err = h.reader.ListByPrincipal(ctx, tenantID, limit, offset)
	}
	if err != nil {
		h.logger.Error("failed to read audit records",
			zap.String("request_id", chimw.GetReqID(ctx)),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to read audit records")
		return
	}
	if requestID != "" && len(records) == 0 {
		_ = utils.WriteNotFound(w, "no audit records for request")
		return
	}

	result := AuditVerification{
		TenantID:  tenantID,
		RequestID: requestID,
		Checked:   len(records),
		Valid:     true,
	}
	if err := auditsvc.VerifyRecords(records); err != nil {
		h.logger.Warn("audit verification failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		result.Valid = false
		result.Error = err.Error()
	}

	_ = utils.WriteOK(w, result)
}

// forRequest returns the records of one request that belong to tenantID
func (h *AuditHandler) forRequest(ctx context.Context, tenantID, requestID string) ([]*models.AuditRecord, error) {
	all, err := h.reader.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var owned []*models.AuditRecord
	for _, rec := range all {
		if rec.PrincipalID == tenantID {
			owned = append(owned, rec)
		}
	}
	return owned, nil
}

var (
	errInvalidLimit  = errors.New("limit must be a positive integer")
	errInvalidOffset = errors.New("offset must be a non-negative integer")
)

func pageParams(limitParam, offsetParam string) (limit, offset int, err error) {
	limit = defaultAuditLimit
	if limitParam != "" {
		if limit, err = strconv.Atoi(limitParam); err != nil || limit <= 0 {
			return 0, 0, errInvalidLimit
		}
		if limit > maxAuditLimit {
			limit = maxAuditLimit
		}
	}
	if offsetParam != "" {
		if offset, err = strconv.Atoi(offsetParam); err != nil || offset < 0 {
			return 0, 0, errInvalidOffset
		}
	}
	return limit, offset, nil
}
