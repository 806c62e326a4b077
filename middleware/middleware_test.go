package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequireTenant(t *testing.T) {
	mw := NewTenantMiddleware(zap.NewNop())

	t.Run("stores tenant in context", func(t *testing.T) {
		var got string
		handler := mw.RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetTenantIDFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/completions", nil)
		req.Header.Set(TenantHeader, " acme-bank ")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "acme-bank", got)
	})

	t.Run("rejects missing tenant", func(t *testing.T) {
		called := false
		handler := mw.RequireTenant(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			called = true
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/completions", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, called)
	})
}

func TestGetTenantIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetTenantIDFromContext(req.Context()))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := chimw.RequestID(
		NewTenantMiddleware(zap.NewNop()).RequireTenant(
			RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
				_, _ = w.Write([]byte("short and stout"))
			}))))

	req := httptest.NewRequest(http.MethodGet, "/pot", nil)
	req.Header.Set(TenantHeader, "state-university")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/pot", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(15), fields["bytes"])
	assert.Equal(t, "state-university", fields["tenant_id"])
	assert.NotEmpty(t, fields["request_id"])
}
