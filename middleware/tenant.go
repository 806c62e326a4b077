package middleware

import (
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// TenantHeader carries the tenant a request is made for
const TenantHeader = "X-Tenant-ID"

// TenantMiddleware resolves the tenant of each request
type TenantMiddleware struct {
	logger *zap.Logger
}

// NewTenantMiddleware creates a new TenantMiddleware
func NewTenantMiddleware(logger *zap.Logger) *TenantMiddleware {
	return &TenantMiddleware{logger: logger}
}

// RequireTenant rejects requests without a tenant header and stores the
// tenant ID in the request context
func (m *TenantMiddleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" {
			m.logger.Warn("missing tenant header",
				zap.String("request_id", chimw.GetReqID(r.Context())))
			_ = utils.WriteBadRequest(w, "Missing "+TenantHeader+" header", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
	})
}
