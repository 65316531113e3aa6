package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/access-control-plane/services"
	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

// StatusForError returns the HTTP status a service error is reported with
func StatusForError(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeValidation, services.ErrorTypeInvalidValue:
		return http.StatusBadRequest
	case services.ErrorTypeRoleNotFound:
		return http.StatusUnprocessableEntity
	case services.ErrorTypeDuplicateName, services.ErrorTypeDuplicateEmail, services.ErrorTypeReferencedByUser:
		return http.StatusConflict
	case services.ErrorTypeVersionConflict:
		return http.StatusPreconditionFailed
	case services.ErrorTypeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		// internal details never leave the process
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	errorType := string(services.GetErrorType(err))
	if err := utils.WriteError(w, status, errorType, errorMessage(err), services.GetErrorDetails(err)); err != nil {
		logger.Error("failed to write error response",
			zap.Int("status", status),
			zap.Error(err))
	}

	logger.Debug("handled service error",
		zap.String("type", errorType),
		zap.Int("status", status),
		zap.Error(err))
}

// errorMessage returns the client-facing message of err
func errorMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
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
