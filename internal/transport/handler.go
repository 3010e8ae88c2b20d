package transport

import (
	"net/http"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// actorFrom returns the authenticated caller, or the zero Actor on public routes
func actorFrom(r *http.Request) domain.Actor {
	actor, _ := middleware.GetActor(r.Context())
	return actor
}

// pathID parses a UUID route parameter, answering 400 when it is malformed
func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		middleware.RespondWithValidationErrors(w, domain.ValidationErrors{{Field: param, Message: "Value must be a valid UUID"}})
		return uuid.Nil, false
	}
	return id, true
}

// decode reads and validates the JSON body into v, answering 400 on failure
func decode(w http.ResponseWriter, r *http.Request, logger *zap.Logger, v interface{}) bool {
	if err := middleware.DecodeAndValidate(r, v); err != nil {
		logger.Debug("Request validation failed", zap.String("path", r.URL.Path), zap.Error(err))
		if verrs := middleware.FormatValidationErrors(err); len(verrs) > 0 {
			middleware.RespondWithValidationErrors(w, verrs)
			return false
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
