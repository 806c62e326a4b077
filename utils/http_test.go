package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("writes payload with status", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())
	})

	t.Run("nil payload writes empty body", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusOK, nil))
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"content": "hi"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"content":"hi"}}`, w.Body.String())
}

func TestErrorWriters(t *testing.T) {
	details := map[string]interface{}{"plugin": "quota"}

	tests := []struct {
		name    string
		write   func(w http.ResponseWriter) error
		status  int
		errCode string
		message string
		details bool
	}{
		{
			name:    "bad request",
			write:   func(w http.ResponseWriter) error { return WriteBadRequest(w, "Invalid body", details) },
			status:  http.StatusBadRequest,
			errCode: "bad_request",
			message: "Invalid body",
			details: true,
		},
		{
			name:    "unauthorized default message",
			write:   func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			status:  http.StatusUnauthorized,
			errCode: "unauthorized",
			message: "Authentication required",
		},
		{
			name:    "not found",
			write:   func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			status:  http.StatusNotFound,
			errCode: "not_found",
			message: "Resource not found",
		},
		{
			name:    "too many requests",
			write:   func(w http.ResponseWriter) error { return WriteTooManyRequests(w, "", details) },
			status:  http.StatusTooManyRequests,
			errCode: "quota_exceeded",
			message: "Quota exceeded",
			details: true,
		},
		{
			name:    "internal error",
			write:   func(w http.ResponseWriter) error { return WriteInternalServerError(w, "boom") },
			status:  http.StatusInternalServerError,
			errCode: "internal_error",
			message: "boom",
		},
		{
			name:    "bad gateway",
			write:   func(w http.ResponseWriter) error { return WriteBadGateway(w, "", details) },
			status:  http.StatusBadGateway,
			errCode: "bad_gateway",
			message: "Upstream failure",
			details: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.errCode, resp.Error)
			assert.Equal(t, tt.message, resp.Message)
			if tt.details {
				assert.Equal(t, "quota", resp.Details["plugin"])
			} else {
				assert.Nil(t, resp.Details)
			}
		})
	}
}
