package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-governance-gateway/services/inference"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

func pluginErr(id string, phase pipeline.Phase, err error) error {
	return &pipeline.PluginError{PluginID: id, Phase: phase, Err: err}
}

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
		expectedPlugin string
	}{
		{
			name:           "unknown tenant",
			err:            fmt.Errorf("%w: %q", inference.ErrUnknownTenant, "ghost"),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "authentication failure",
			err:            pluginErr("authn", pipeline.PhaseAuthenticate, pipeline.NewAuthenticationError("missing credentials", nil)),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "quota exceeded",
			err:            pluginErr("quota", pipeline.PhaseAuthenticate, pipeline.NewQuotaExceededError("quota exhausted", nil)),
			expectedStatus: http.StatusTooManyRequests,
			expectedError:  "quota_exceeded",
			expectedPlugin: "quota",
		},
		{
			name: "content violation",
			err: pluginErr("guardrail", pipeline.PhaseTransformRequest,
				pipeline.NewContentViolationError("prohibited content", nil).WithDetail("category", "market_abuse")),
			expectedStatus: http.StatusForbidden,
			expectedError:  "content_violation",
			expectedPlugin: "guardrail",
		},
		{
			name:           "backend failure",
			err:            pipeline.NewProcessingError(`backend "openai" failed`, errors.New("timeout")),
			expectedStatus: http.StatusBadGateway,
			expectedError:  "bad_gateway",
		},
		{
			name:           "validation error",
			err:            &utils.ValidationError{Message: "Validation failed", Fields: map[string]string{"Prompt": "Prompt is required"}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
		{
			name:           "uncategorized error",
			err:            errors.New("something else"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.expectedError, resp.Error)
			if tt.expectedPlugin != "" {
				assert.Equal(t, tt.expectedPlugin, resp.Details["plugin"])
			}
		})
	}
}

func TestHandleServiceError_ContentViolationDetails(t *testing.T) {
	err := pluginErr("guardrail", pipeline.PhaseTransformRequest,
		pipeline.NewContentViolationError("prohibited content", nil).WithDetail("category", "market_abuse"))

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	var resp utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "market_abuse", resp.Details["category"])
	assert.Equal(t, "content_violation", resp.Details["type"])
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	err := &utils.ValidationError{Message: "Validation failed", Fields: map[string]string{"Prompt": "Prompt is required"}}

	w := httptest.NewRecorder()
	HandleValidationError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Prompt is required", resp.Details["Prompt"])
}
