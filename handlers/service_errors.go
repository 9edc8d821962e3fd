package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	code := services.GetErrorCode(err)
	details := services.GetErrorDetails(err)
	message := errorMessage(err)

	var status int
	switch {
	case services.IsValidationError(err):
		status = http.StatusBadRequest

	case services.IsIncompleteError(err):
		status = http.StatusUnprocessableEntity

	case services.IsNotFoundError(err):
		status = http.StatusNotFound

	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized

	case services.IsForbiddenError(err):
		status = http.StatusForbidden

	case services.IsConflictError(err):
		status = http.StatusConflict

	case services.IsConfigurationError(err):
		// The CRM catalog is missing something an operator must fix
		logger.Error("catalog misconfigured", zap.Error(err), zap.String("code", code))
		status = http.StatusInternalServerError

	case services.IsExternalError(err):
		if code == services.CodeCrmRejected {
			status = http.StatusBadGateway
		} else {
			status = http.StatusServiceUnavailable
		}
		logger.Warn("upstream unavailable", zap.Error(err), zap.String("code", code))
		message = "An upstream service is unavailable"
		details = nil

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
		return

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if werr := utils.WriteInternalServerError(w, "An unexpected error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
		return
	}

	if len(details) == 0 {
		details = nil
	}
	if werr := utils.WriteError(w, status, code, message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr), zap.Int("status", status))
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

// errorMessage returns the client-facing message of a domain error without
// its type prefix or wrapped cause
func errorMessage(err error) string {
	if msg := services.GetErrorMessage(err); msg != "" {
		return msg
	}
	return err.Error()
}
