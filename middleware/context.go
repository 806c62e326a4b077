package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// TenantIDKey is the context key for the tenant ID
	TenantIDKey contextKey = "tenant_id"
)

// GetTenantIDFromContext retrieves the tenant ID from context
func GetTenantIDFromContext(ctx context.Context) string {
	if val := ctx.Value(TenantIDKey); val != nil {
		if tenantID, ok := val.(string); ok {
			return tenantID
		}
	}
	return ""
}

// WithTenantID adds a tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}
