package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"pharmacy-market/internal/auth"
	"pharmacy-market/internal/domain"

	"go.uber.org/zap"
)

type contextKey string

const (
	ActorKey contextKey = "actor"
)

// TokenValidator turns a bearer token into claims
type TokenValidator interface {
	Validate(tokenString string) (*auth.Claims, error)
}

// AuthMiddleware validates JWT tokens and stores the caller in the request context
func AuthMiddleware(tokens TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing authorization header")
				RespondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("Invalid authorization header format")
				RespondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := tokens.Validate(parts[1])
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				if errors.Is(err, auth.ErrTokenExpired) {
					RespondWithError(w, http.StatusUnauthorized, "token expired")
				} else {
					RespondWithError(w, http.StatusUnauthorized, "invalid token")
				}
				return
			}

			actor := claims.Actor()
			logger.Debug("User authenticated",
				zap.String("user_id", actor.ID.String()),
				zap.String("role", string(actor.Role)),
			)

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor extracts the authenticated caller from request context
func GetActor(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(domain.Actor)
	return actor, ok
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	actor, ok := GetActor(ctx)
	if !ok {
		return "", false
	}
	return actor.ID.String(), true
}

// GetUserRole extracts user role from request context
func GetUserRole(ctx context.Context) (domain.Role, bool) {
	actor, ok := GetActor(ctx)
	if !ok {
		return "", false
	}
	return actor.Role, true
}
