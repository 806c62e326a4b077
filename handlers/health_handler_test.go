package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var envelope struct {
		Data HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope.Data
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeHealth(t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		w := httptest.NewRecorder()
		NewHealthHandler(db, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeHealth(t, w)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "healthy", resp.Checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		w := httptest.NewRecorder()
		NewHealthHandler(db, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeHealth(t, w)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "unhealthy", resp.Checks["database"])
	})

	t.Run("no database configured", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler(nil, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeHealth(t, w)
		assert.NotContains(t, resp.Checks, "database")
	})

	t.Run("additional checks", func(t *testing.T) {
		handler := NewHealthHandler(nil, logger).
			WithCheck("redis", func(context.Context) error { return nil }).
			WithCheck("provider", func(context.Context) error { return errors.New("down") })

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeHealth(t, w)
		assert.Equal(t, "healthy", resp.Checks["redis"])
		assert.Equal(t, "unhealthy", resp.Checks["provider"])
	})
}
