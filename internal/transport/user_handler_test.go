package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/middleware"
	"pharmacy-market/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func jsonRequest(method, target string, body interface{}) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func validRegistration() RegisterRequest {
	return RegisterRequest{
		Username:  "ana",
		Password:  "s3cretpass",
		FirstName: "Ana",
		LastName:  "Petrova",
		Phone:     "+359888000111",
		Role:      "buyer",
	}
}

func TestProperty_InvalidRegistrationDataIsRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("registration with invalid data returns validation errors", prop.ForAll(
		func(invalidCase int) bool {
			called := false
			handler := NewUserHandler(&stubUserService{
				register: func(ctx context.Context, input service.RegisterInput) (*domain.User, error) {
					called = true
					return nil, nil
				},
			}, zap.NewNop())

			reqBody := validRegistration()
			switch invalidCase % 5 {
			case 0:
				reqBody.Username = ""
			case 1:
				reqBody.Email = "not-an-email"
			case 2:
				reqBody.Password = "short"
			case 3:
				reqBody.Phone = "call me"
			case 4:
				reqBody.Role = "admin"
			}

			w := httptest.NewRecorder()
			handler.Register(w, jsonRequest(http.MethodPost, "/api/users/register", reqBody))

			if w.Code != http.StatusBadRequest || called {
				t.Logf("FAIL: case %d got status %d (service called: %v)", invalidCase%5, w.Code, called)
				return false
			}

			var response middleware.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				return false
			}
			_, ok := response.Error.Details["validation_errors"]
			return ok
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRegister_ReturnsProfile(t *testing.T) {
	var got service.RegisterInput
	handler := NewUserHandler(&stubUserService{
		register: func(ctx context.Context, input service.RegisterInput) (*domain.User, error) {
			got = input
			return &domain.User{
				ID:        uuid.New(),
				Username:  input.Username,
				FirstName: input.FirstName,
				LastName:  input.LastName,
				Phone:     input.Phone,
				Role:      input.Role,
				IsActive:  true,
				CreatedAt: time.Now(),
			}, nil
		},
	}, zap.NewNop())

	w := httptest.NewRecorder()
	handler.Register(w, jsonRequest(http.MethodPost, "/api/users/register", validRegistration()))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, domain.RoleBuyer, got.Role)

	var profile UserProfile
	require.NoError(t, json.NewDecoder(w.Body).Decode(&profile))
	assert.Equal(t, "ana", profile.Username)
	assert.Equal(t, "buyer", profile.Role)
	assert.NotContains(t, w.Body.String(), "s3cretpass")
}

func TestRegister_DuplicateIsValidationError(t *testing.T) {
	handler := NewUserHandler(&stubUserService{
		register: func(ctx context.Context, input service.RegisterInput) (*domain.User, error) {
			return nil, domain.NewValidationError("username", "A user with that username already exists")
		},
	}, zap.NewNop())

	w := httptest.NewRecorder()
	handler.Register(w, jsonRequest(http.MethodPost, "/api/users/register", validRegistration()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "username")
}

func TestResetPassword_CodeFormat(t *testing.T) {
	calls := 0
	handler := NewUserHandler(&stubUserService{
		reset: func(ctx context.Context, phone, code, newPassword string) error {
			calls++
			if code != "123456" {
				return domain.NewValidationError("code", "Invalid or expired code")
			}
			return nil
		},
	}, zap.NewNop())

	cases := []struct {
		code   string
		status int
	}{
		{"12345", http.StatusBadRequest},
		{"abcdef", http.StatusBadRequest},
		{"654321", http.StatusBadRequest},
		{"123456", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		handler.ResetPassword(w, jsonRequest(http.MethodPost, "/api/users/reset-password", ResetPasswordRequest{
			Phone:       "+359888000111",
			Code:        tc.code,
			NewPassword: "brandnewpass",
		}))
		assert.Equal(t, tc.status, w.Code, "code %q", tc.code)
	}
	assert.Equal(t, 2, calls, "malformed codes never reach the service")
}

func TestUserRoutes_ProfileAndAdminList(t *testing.T) {
	userID := uuid.New()
	handler := NewUserHandler(&stubUserService{
		getUser: func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.User, error) {
			if actor.ID != id && actor.Role != domain.RoleAdmin {
				return nil, fmt.Errorf("failed to get user: %w", domain.ErrForbidden)
			}
			return &domain.User{ID: id, Username: "ana", Role: domain.RoleBuyer}, nil
		},
	}, zap.NewNop())

	router := chi.NewRouter()
	handler.RegisterRoutes(router, fakeAuth(domain.Actor{ID: userID, Role: domain.RoleBuyer}), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code, "listing users needs admin")
}

// fakeAuth stands in for the JWT middleware and authenticates every request as actor
func fakeAuth(actor domain.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithActor(r.Context(), actor)))
		})
	}
}
