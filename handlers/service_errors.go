package handlers

import (
	"net/http"

	"github.com/opsdeck/workstream/services"
	"github.com/opsdeck/workstream/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. The error kind
// travels in the response details so API clients can branch on it without
// parsing messages.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	kind := services.KindOf(err)
	details := map[string]interface{}{
		"error_kind": string(kind),
		"retryable":  services.IsRetryable(err),
	}
	for k, v := range services.GetErrorDetails(err) {
		details[k] = v
	}
	message := services.PublicDetailOf(err)

	switch kind {
	case services.ErrorKindValidation:
		if err := utils.WriteBadRequest(w, message, details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.ErrorKindPermissionDenied:
		if err := utils.WriteForbidden(w, message); err != nil {
			logger.Error("failed to write forbidden response", zap.Error(err))
		}

	case services.ErrorKindIllegalTransition, services.ErrorKindConcurrencyConflict:
		if err := utils.WriteConflict(w, message, details); err != nil {
			logger.Error("failed to write conflict response", zap.Error(err))
		}

	case services.ErrorKindBusinessRuleViolated, services.ErrorKindCommentRequired:
		if err := utils.WriteUnprocessable(w, message, details); err != nil {
			logger.Error("failed to write unprocessable response", zap.Error(err))
		}

	default:
		// Environmental faults: log the detail, return a generic message.
		logger.Error("systemic error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
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
