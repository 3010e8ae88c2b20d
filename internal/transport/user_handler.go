package transport

import (
	"net/http"
	"time"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/middleware"
	"pharmacy-market/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username     string `json:"username" validate:"required,min=3,max=150"`
	Password     string `json:"password" validate:"required,min=8"`
	FirstName    string `json:"first_name" validate:"required,max=30"`
	LastName     string `json:"last_name" validate:"required,max=30"`
	BusinessName string `json:"business_name" validate:"max=255"`
	Address      string `json:"address" validate:"max=255"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone" validate:"required,phone"`
	Role         string `json:"role" validate:"required,oneof=buyer seller"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// UpdateProfileRequest carries the editable profile fields. Omitted fields are unchanged.
type UpdateProfileRequest struct {
	FirstName    *string `json:"first_name" validate:"omitempty,min=1,max=30"`
	LastName     *string `json:"last_name" validate:"omitempty,min=1,max=30"`
	BusinessName *string `json:"business_name" validate:"omitempty,max=255"`
	Address      *string `json:"address" validate:"omitempty,max=255"`
	Email        *string `json:"email" validate:"omitempty,email"`
	Phone        *string `json:"phone" validate:"omitempty,phone"`
}

// ChangePasswordRequest represents a password change by a signed-in user
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// ForgotPasswordRequest starts a password reset for the account with this phone
type ForgotPasswordRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
}

// ResetPasswordRequest completes a password reset with the code sent to the phone
type ResetPasswordRequest struct {
	Phone       string `json:"phone" validate:"required,phone"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserProfile `json:"user"`
}

// RefreshResponse represents the token refresh response
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// UserProfile represents user profile data
type UserProfile struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BusinessName string    `json:"business_name,omitempty"`
	Address      string    `json:"address"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	DateJoined   time.Time `json:"date_joined"`
}

func toUserProfile(user *domain.User) UserProfile {
	return UserProfile{
		ID:           user.ID.String(),
		Username:     user.Username,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		BusinessName: user.BusinessName,
		Address:      user.Address,
		Email:        user.Email,
		Phone:        user.Phone,
		Role:         string(user.Role),
		IsActive:     user.IsActive,
		DateJoined:   user.CreatedAt,
	}
}

// UserHandler handles HTTP requests for user operations
type UserHandler struct {
	userService service.UserService
	logger      *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers all user routes. rateLimit may be nil.
func (h *UserHandler) RegisterRoutes(r chi.Router, authMiddleware, rateLimit func(http.Handler) http.Handler) {
	r.Route("/api/users", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			if rateLimit != nil {
				r.Use(rateLimit)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.RefreshToken)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Post("/reset-password", h.ResetPassword)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.GetProfile)
			r.Put("/me", h.UpdateProfile)
			r.Put("/me/password", h.ChangePassword)
			r.With(middleware.RequireAdmin(h.logger)).Get("/", h.ListUsers)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
			r.Delete("/{id}", h.DeleteUser)
		})
	})
}

// Register handles user registration
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	user, err := h.userService.Register(r.Context(), service.RegisterInput{
		Username:     req.Username,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		BusinessName: req.BusinessName,
		Address:      req.Address,
		Email:        req.Email,
		Phone:        req.Phone,
		Role:         domain.Role(req.Role),
	})
	if err != nil {
		h.logger.Debug("Registration failed", zap.Error(err))
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("User registered successfully", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, toUserProfile(user))
}

// Login handles user authentication
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	accessToken, refreshToken, user, err := h.userService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Debug("Login failed", zap.Error(err))
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("User logged in successfully", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         toUserProfile(user),
	})
}

// Logout handles user logout
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	if err := h.userService.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.Error("Logout failed", zap.Error(err))
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// RefreshToken handles token refresh
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	newAccessToken, err := h.userService.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.logger.Debug("Token refresh failed", zap.Error(err))
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, RefreshResponse{AccessToken: newAccessToken})
}

// GetProfile returns the caller's own profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	user, err := h.userService.GetUser(r.Context(), actor, actor.ID)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, toUserProfile(user))
}

// UpdateProfile edits the caller's own profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	h.updateUser(w, r, actor, actor.ID.String())
}

// ChangePassword replaces the caller's password after checking the old one
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	if err := h.userService.ChangePassword(r.Context(), actorFrom(r), req.OldPassword, req.NewPassword); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

// ForgotPassword sends a one-time code to the phone of a registered account
func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	if err := h.userService.ForgotPassword(r.Context(), req.Phone); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
}

// ResetPassword sets a new password once the one-time code checks out
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	if err := h.userService.ResetPassword(r.Context(), req.Phone, req.Code, req.NewPassword); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// ListUsers returns every account (admin only)
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context(), actorFrom(r))
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	profiles := make([]UserProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, toUserProfile(u))
	}
	middleware.RespondWithJSON(w, http.StatusOK, profiles)
}

// GetUser returns one account (admin or self)
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.userService.GetUser(r.Context(), actorFrom(r), id)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, toUserProfile(user))
}

// UpdateUser edits one account (admin or self)
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	h.updateUser(w, r, actorFrom(r), chi.URLParam(r, "id"))
}

func (h *UserHandler) updateUser(w http.ResponseWriter, r *http.Request, actor domain.Actor, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		middleware.RespondWithValidationErrors(w, domain.ValidationErrors{{Field: "id", Message: "Value must be a valid UUID"}})
		return
	}

	var req UpdateProfileRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	user, err := h.userService.UpdateUser(r.Context(), actor, id, domain.ProfileUpdate{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		BusinessName: req.BusinessName,
		Address:      req.Address,
		Email:        req.Email,
		Phone:        req.Phone,
	})
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, toUserProfile(user))
}

// DeleteUser removes one account (admin or self)
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.userService.DeleteUser(r.Context(), actorFrom(r), id); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("User deleted", zap.String("user_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}
