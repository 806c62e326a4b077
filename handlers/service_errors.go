package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/llm-governance-gateway/services/inference"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps pipeline errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	if utils.IsValidationError(err) {
		HandleValidationError(w, err, logger)
		return
	}

	details := errorDetails(err)

	var writeErr error
	switch {
	case errors.Is(err, inference.ErrUnknownTenant):
		writeErr = utils.WriteUnauthorized(w, "Unknown tenant")

	case pipeline.IsAuthenticationFailed(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case pipeline.IsQuotaExceeded(err):
		writeErr = utils.WriteTooManyRequests(w, err.Error(), details)

	case pipeline.IsContentViolation(err):
		writeErr = utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse{
			Error:   "content_violation",
			Message: err.Error(),
			Details: details,
		})

	case pipeline.IsProcessingFailed(err):
		logger.Error("pipeline processing failed", zap.Error(err))
		writeErr = utils.WriteBadGateway(w, "Upstream processing failed", details)

	default:
		logger.Error("unhandled error type", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// errorDetails collects the failing plugin and the categorized error details
func errorDetails(err error) map[string]interface{} {
	details := make(map[string]interface{})
	if id, ok := pipeline.FailingPlugin(err); ok {
		details["plugin"] = id
	}

	var pe *pipeline.Error
	if errors.As(err, &pe) {
		details["type"] = string(pe.Type)
		for k, v := range pe.Details {
			details[k] = v
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
