package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmacy-market/internal/auth"
	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/metrics"
	"pharmacy-market/internal/otp"
	"pharmacy-market/internal/policy"
	"pharmacy-market/internal/repository"
	"pharmacy-market/internal/validation"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RefreshTokenExpiration is the default lifetime of a refresh token
	RefreshTokenExpiration = 7 * 24 * time.Hour

	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 8
)

var (
	ErrInvalidCredentials = fmt.Errorf("invalid username or password: %w", domain.ErrUnauthenticated)
	ErrInactiveUser       = fmt.Errorf("account is disabled: %w", domain.ErrUnauthenticated)
)

// RegisterInput carries the fields of a new account
type RegisterInput struct {
	Username     string
	Password     string
	FirstName    string
	LastName     string
	BusinessName string
	Address      string
	Email        string
	Phone        string
	Role         domain.Role
}

// UserService defines the interface for user business logic
type UserService interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	CreateAdmin(ctx context.Context, input RegisterInput) (*domain.User, error)
	Login(ctx context.Context, username, password string) (accessToken, refreshToken string, user *domain.User, err error)
	Logout(ctx context.Context, refreshToken string) error
	RefreshToken(ctx context.Context, refreshToken string) (newAccessToken string, err error)
	GetUser(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.User, error)
	ListUsers(ctx context.Context, actor domain.Actor) ([]*domain.User, error)
	UpdateUser(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.ProfileUpdate) (*domain.User, error)
	DeleteUser(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	ChangePassword(ctx context.Context, actor domain.Actor, oldPassword, newPassword string) error
	ForgotPassword(ctx context.Context, phone string) error
	ResetPassword(ctx context.Context, phone, code, newPassword string) error
}

// UserServiceDeps groups the collaborators of the user service
type UserServiceDeps struct {
	TxManager        repository.TransactionManager
	UserRepo         repository.UserRepository
	RefreshTokenRepo repository.RefreshTokenRepository
	Tokens           *auth.TokenIssuer
	Hasher           auth.PasswordHasher
	OTP              *otp.Store
	OTPSender        otp.Sender
	RefreshTTL       time.Duration
	Logger           *zap.Logger
}

type userService struct {
	txManager        repository.TransactionManager
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	tokens           *auth.TokenIssuer
	hasher           auth.PasswordHasher
	otp              *otp.Store
	otpSender        otp.Sender
	refreshTTL       time.Duration
	validate         *validator.Validate
	logger           *zap.Logger
	now              func() time.Time
}

// NewUserService creates a new instance of UserService
func NewUserService(deps UserServiceDeps) UserService {
	refreshTTL := deps.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = RefreshTokenExpiration
	}
	return &userService{
		txManager:        deps.TxManager,
		userRepo:         deps.UserRepo,
		refreshTokenRepo: deps.RefreshTokenRepo,
		tokens:           deps.Tokens,
		hasher:           deps.Hasher,
		otp:              deps.OTP,
		otpSender:        deps.OTPSender,
		refreshTTL:       refreshTTL,
		validate:         validation.New(),
		logger:           deps.Logger,
		now:              time.Now,
	}
}

// Register creates a buyer or seller account with a hashed password
func (s *userService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if input.Role == domain.RoleAdmin {
		return nil, domain.NewValidationError("role", "Admin accounts cannot be registered")
	}
	return s.create(ctx, input)
}

// CreateAdmin creates an admin account. It is only reachable from operator tooling.
func (s *userService) CreateAdmin(ctx context.Context, input RegisterInput) (*domain.User, error) {
	input.Role = domain.RoleAdmin
	return s.create(ctx, input)
}

func (s *userService) create(ctx context.Context, input RegisterInput) (*domain.User, error) {
	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(input.Username),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		BusinessName: input.BusinessName,
		Address:      input.Address,
		Email:        strings.TrimSpace(input.Email),
		Phone:        input.Phone,
		Role:         input.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.validateUser(user); err != nil {
		return nil, err
	}
	if err := validatePassword("password", input.Password); err != nil {
		return nil, err
	}

	hashedPassword, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hashedPassword

	if err := s.userRepo.Create(ctx, user); err != nil {
		if verr := duplicateField(err); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)),
	)

	return user, nil
}

// Login authenticates a user by username and returns JWT tokens
func (s *userService) Login(ctx context.Context, username, password string) (accessToken, refreshToken string, user *domain.User, err error) {
	user, err = s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", "", nil, ErrInvalidCredentials
		}
		return "", "", nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !s.hasher.Check(password, user.PasswordHash) {
		return "", "", nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", "", nil, ErrInactiveUser
	}

	accessToken, err = s.tokens.Generate(user)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err = s.generateRefreshToken(ctx, user)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, user, nil
}

// Logout invalidates the refresh token
func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.refreshTokenRepo.Revoke(ctx, refreshToken); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			// Token doesn't exist, consider it already logged out
			return nil
		}
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RefreshToken generates a new access token using a valid refresh token
func (s *userService) RefreshToken(ctx context.Context, refreshTokenString string) (string, error) {
	refreshToken, err := s.refreshTokenRepo.FindByToken(ctx, refreshTokenString)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) || errors.Is(err, repository.ErrRefreshTokenRevoked) {
			return "", auth.ErrInvalidToken
		}
		return "", fmt.Errorf("failed to find refresh token: %w", err)
	}

	if s.now().After(refreshToken.ExpiresAt) {
		return "", auth.ErrTokenExpired
	}

	user, err := s.userRepo.FindByID(ctx, refreshToken.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", auth.ErrInvalidToken
		}
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if !user.IsActive {
		return "", ErrInactiveUser
	}

	newAccessToken, err := s.tokens.Generate(user)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return newAccessToken, nil
}

// GetUser retrieves an account visible to the actor
func (s *userService) GetUser(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.User, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if !policy.CanManageUser(actor, id) {
		return nil, fmt.Errorf("cannot view another user: %w", domain.ErrForbidden)
	}

	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns every account. Admin only.
func (s *userService) ListUsers(ctx context.Context, actor domain.Actor) ([]*domain.User, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if !policy.CanListUsers(actor) {
		return nil, fmt.Errorf("only admins can list users: %w", domain.ErrForbidden)
	}

	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// UpdateUser changes profile fields. Username, role and password stay as they are.
func (s *userService) UpdateUser(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.ProfileUpdate) (*domain.User, error) {
	user, err := s.GetUser(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	update.Apply(user)
	user.Email = strings.TrimSpace(user.Email)
	user.UpdatedAt = s.now().UTC()

	if err := s.validateUser(user); err != nil {
		return nil, err
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		if verr := duplicateField(err); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DeleteUser removes an account together with its drugs, orders and tokens
func (s *userService) DeleteUser(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !policy.CanManageUser(actor, id) {
		return fmt.Errorf("cannot delete another user: %w", domain.ErrForbidden)
	}

	if err := s.userRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info("User deleted",
		zap.String("user_id", id.String()),
		zap.String("deleted_by", actor.ID.String()),
	)
	return nil
}

// ChangePassword replaces the actor's password after checking the current one
func (s *userService) ChangePassword(ctx context.Context, actor domain.Actor, oldPassword, newPassword string) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}

	user, err := s.userRepo.FindByID(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Check(oldPassword, user.PasswordHash) {
		return domain.NewValidationError("old_password", "Old password is not correct")
	}
	if oldPassword == newPassword {
		return domain.NewValidationError("new_password", "New password must differ from the old one")
	}
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}

	return s.setPassword(ctx, user.ID, newPassword)
}

// ForgotPassword issues a reset code for the account registered with phone
// and hands it to the configured sender. An unknown phone gets the same
// response as a registered one and no code is issued.
func (s *userService) ForgotPassword(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.NewValidationError("phone", "This field is required")
	}

	if _, err := s.userRepo.FindByPhone(ctx, phone); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("Password reset requested for unregistered phone")
			return nil
		}
		return fmt.Errorf("failed to find user by phone: %w", err)
	}

	code, err := s.otp.Issue(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to issue reset code: %w", err)
	}
	metrics.OTPIssuedTotal.Inc()

	if err := s.otpSender.Send(ctx, phone, code); err != nil {
		_ = s.otp.Invalidate(ctx, phone)
		return fmt.Errorf("failed to send reset code: %w", err)
	}

	return nil
}

// ResetPassword sets a new password when code matches the outstanding reset
// code for phone. The code is consumed and every refresh token is revoked.
func (s *userService) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	phone = strings.TrimSpace(phone)
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}

	user, err := s.userRepo.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("code", "Invalid or expired code")
		}
		return fmt.Errorf("failed to find user by phone: %w", err)
	}

	if err := s.otp.Verify(ctx, phone, strings.TrimSpace(code)); err != nil {
		if errors.Is(err, otp.ErrInvalidCode) {
			metrics.OTPVerificationsTotal.WithLabelValues("invalid").Inc()
			return domain.NewValidationError("code", "Invalid or expired code")
		}
		return err
	}
	metrics.OTPVerificationsTotal.WithLabelValues("valid").Inc()

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}

	if err := s.otp.Invalidate(ctx, phone); err != nil {
		s.logger.Warn("Failed to invalidate reset code", zap.Error(err))
	}

	s.logger.Info("Password reset", zap.String("user_id", user.ID.String()))
	return nil
}

// setPassword stores a new hash and revokes every refresh token in one transaction
func (s *userService) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hashedPassword, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		if err := repos.Users().UpdatePassword(ctx, userID, hashedPassword); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if _, err := repos.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
			return err
		}
		return nil
	})
}

// validateUser checks field rules and the role-dependent business name rule
func (s *userService) validateUser(user *domain.User) error {
	if err := s.validate.Struct(user); err != nil {
		return validation.ToDomain(err)
	}
	switch user.Role {
	case domain.RoleSeller:
		if strings.TrimSpace(user.BusinessName) == "" {
			return domain.NewValidationError("business_name", "Sellers must provide a business name")
		}
	case domain.RoleBuyer:
		if user.BusinessName != "" {
			return domain.NewValidationError("business_name", "Buyers cannot have a business name")
		}
	}
	return nil
}

func validatePassword(field, password string) error {
	if len(password) < MinPasswordLength {
		return domain.NewValidationError(field, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	return nil
}

// duplicateField turns a uniqueness failure into a validation error on the offending field
func duplicateField(err error) error {
	switch {
	case errors.Is(err, repository.ErrUsernameTaken):
		return domain.NewValidationError("username", repository.ErrUsernameTaken.Error())
	case errors.Is(err, repository.ErrPhoneTaken):
		return domain.NewValidationError("phone", repository.ErrPhoneTaken.Error())
	case errors.Is(err, repository.ErrEmailTaken):
		return domain.NewValidationError("email", repository.ErrEmailTaken.Error())
	case errors.Is(err, repository.ErrUserConstraint):
		return domain.NewValidationError("user", repository.ErrUserConstraint.Error())
	}
	return nil
}

// generateRefreshToken generates a refresh token and stores it in the database
func (s *userService) generateRefreshToken(ctx context.Context, user *domain.User) (string, error) {
	tokenString := uuid.New().String()
	now := s.now().UTC()

	refreshToken := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     tokenString,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
		Revoked:   false,
	}

	if err := s.refreshTokenRepo.Create(ctx, refreshToken); err != nil {
		return "", err
	}

	return tokenString, nil
}
