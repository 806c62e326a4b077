package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/models"
	auditsvc "github.com/upb/llm-governance-gateway/services/audit"
	"go.uber.org/zap"
)

type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

func (m *MockAuditReader) ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, principalID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

type recordCollector struct {
	records []*models.AuditRecord
}

func (c *recordCollector) Log(_ context.Context, r *models.AuditRecord) error {
	c.records = append(c.records, r)
	return nil
}

func chainedRecords(t *testing.T, tenantID string, ids ...string) []*models.AuditRecord {
	t.Helper()
	collector := &recordCollector{}
	chain := auditsvc.NewChainSink(collector, "")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range ids {
		rec := models.NewAuditRecord(id, tenantID, "finance").
			WithPrompts("hello", "hello").
			WithTiming(start, start.Add(time.Second)).
			WithExtensions(map[string]any{"pii.count": 2})
		require.NoError(t, chain.Log(context.Background(), rec))
	}
	return collector.records
}

func newAuditRequest(tenantID, query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/verify"+query, nil)
	if tenantID != "" {
		req = req.WithContext(middleware.WithTenantID(req.Context(), tenantID))
	}
	return req
}

func decodeVerification(t *testing.T, w *httptest.ResponseRecorder) AuditVerification {
	t.Helper()
	var envelope struct {
		Data AuditVerification `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope.Data
}

func TestHandleVerify_Principal(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("ListByPrincipal", mock.Anything, "acme", 100, 0).
		Return(chainedRecords(t, "acme", "req-1", "req-2"), nil)

	w := httptest.NewRecorder()
	NewAuditHandler(reader, zap.NewNop()).HandleVerify(w, newAuditRequest("acme", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	result := decodeVerification(t, w)
	assert.Equal(t, "acme", result.TenantID)
	assert.Equal(t, 2, result.Checked)
	assert.True(t, result.Valid)
	reader.AssertExpectations(t)
}

func TestHandleVerify_DetectsModifiedRecord(t *testing.T) {
	records := chainedRecords(t, "acme", "req-1", "req-2")
	records[1].Success = true

	reader := new(MockAuditReader)
	reader.On("ListByPrincipal", mock.Anything, "acme", 10, 5).Return(records, nil)

	w := httptest.NewRecorder()
	NewAuditHandler(reader, zap.NewNop()).HandleVerify(w, newAuditRequest("acme", "?limit=10&offset=5"))

	assert.Equal(t, http.StatusOK, w.Code)
	result := decodeVerification(t, w)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, records[1].ID.String())
}

func TestHandleVerify_Request(t *testing.T) {
	mine := chainedRecords(t, "acme", "req-7")
	theirs := chainedRecords(t, "globex", "req-7")

	reader := new(MockAuditReader)
	reader.On("GetByRequestID", mock.Anything, "req-7").Return(append(mine, theirs...), nil)
	reader.On("GetByRequestID", mock.Anything, "req-8").Return([]*models.AuditRecord{}, nil)

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVerify(w, newAuditRequest("acme", "?request_id=req-7"))
	assert.Equal(t, http.StatusOK, w.Code)
	result := decodeVerification(t, w)
	assert.Equal(t, "req-7", result.RequestID)
	assert.Equal(t, 1, result.Checked)
	assert.True(t, result.Valid)

	w = httptest.NewRecorder()
	handler.HandleVerify(w, newAuditRequest("acme", "?request_id=req-8"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleVerify_Errors(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("ListByPrincipal", mock.Anything, "acme", 100, 0).Return(nil, errors.New("connection refused"))
	handler := NewAuditHandler(reader, zap.NewNop())

	tests := []struct {
		name     string
		tenantID string
		query    string
		status   int
	}{
		{name: "missing tenant", query: "", status: http.StatusBadRequest},
		{name: "bad limit", tenantID: "acme", query: "?limit=zero", status: http.StatusBadRequest},
		{name: "negative offset", tenantID: "acme", query: "?offset=-1", status: http.StatusBadRequest},
		{name: "repository failure", tenantID: "acme", query: "", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.HandleVerify(w, newAuditRequest(tt.tenantID, tt.query))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
