package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"pharmacy-market/internal/domain"

	"go.uber.org/zap"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// RespondWithError sends a structured error response
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithErrorDetails(w, statusCode, message, nil)
}

// RespondWithErrorDetails sends a structured error response with additional details
func RespondWithErrorDetails(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      http.StatusText(statusCode),
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	json.NewEncoder(w).Encode(response)
}

// RespondWithValidationErrors sends validation error response
func RespondWithValidationErrors(w http.ResponseWriter, errors domain.ValidationErrors) {
	details := make(map[string]interface{})
	details["validation_errors"] = errors

	RespondWithErrorDetails(w, http.StatusBadRequest, "validation failed", details)
}

// RespondWithServiceError maps a domain error kind to its HTTP status.
// Unrecognised errors are logged and reported as 500 without their text.
func RespondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		verrs    domain.ValidationErrors
		stockErr *domain.InsufficientStockError
	)

	switch {
	case errors.As(err, &verrs):
		RespondWithValidationErrors(w, verrs)
	case errors.As(err, &stockErr):
		RespondWithErrorDetails(w, http.StatusConflict, "insufficient stock", map[string]interface{}{
			"drug_id":   stockErr.DrugID,
			"drug_name": stockErr.DrugName,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
	case errors.Is(err, domain.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		RespondWithError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Unhandled service error", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ErrorHandlingMiddleware catches panics and converts them to 500 errors
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
					)

					RespondWithError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
