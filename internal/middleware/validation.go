package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/validation"

	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies read by DecodeAndValidate
const maxBodyBytes = 1 << 20

var validate = validation.New()

// ValidateRequest validates the request body against a struct with validation tags
func ValidateRequest(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return validation.ToDomain(err)
	}
	return nil
}

// ValidationMiddleware rejects request bodies that are not declared as JSON
func ValidationMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
				if ct := r.Header.Get("Content-Type"); ct != "" {
					mediaType, _, err := mime.ParseMediaType(ct)
					if err != nil || mediaType != "application/json" {
						logger.Debug("Rejected non-JSON body", zap.String("content_type", ct))
						RespondWithError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DecodeAndValidate decodes JSON request body and validates it. Malformed JSON
// is reported as a validation error on the body.
func DecodeAndValidate(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "Request body is required")
		}
		return domain.NewValidationError("body", fmt.Sprintf("Invalid JSON: %v", err))
	}
	return ValidateRequest(v)
}

// FormatValidationErrors converts validation failures to a readable format
func FormatValidationErrors(err error) domain.ValidationErrors {
	var verrs domain.ValidationErrors
	if errors.As(validation.ToDomain(err), &verrs) {
		return verrs
	}
	return nil
}
