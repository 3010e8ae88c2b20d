package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pharmacy-market/internal/auth"
	"pharmacy-market/internal/cache"
	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/otp"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// captureSender records the last code handed out per phone.
type captureSender struct {
	codes map[string]string
	err   error
}

func (c *captureSender) Send(_ context.Context, phone, code string) error {
	if c.err != nil {
		return c.err
	}
	c.codes[phone] = code
	return nil
}

type userFixture struct {
	store   *memStore
	service UserService
	tokens  *auth.TokenIssuer
	sender  *captureSender
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	store := newMemStore()
	tokens, err := auth.NewTokenIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	sender := &captureSender{codes: map[string]string{}}

	return &userFixture{
		store:  store,
		tokens: tokens,
		sender: sender,
		service: NewUserService(UserServiceDeps{
			TxManager:        store,
			UserRepo:         &memUserRepo{s: store},
			RefreshTokenRepo: &memTokenRepo{s: store},
			Tokens:           tokens,
			Hasher:           auth.NewBcryptHasher(bcrypt.MinCost),
			OTP:              otp.NewStore(cache.NewMemoryStore(), time.Minute),
			OTPSender:        sender,
			Logger:           zap.NewNop(),
		}),
	}
}

func buyerInput(username, phone string) RegisterInput {
	return RegisterInput{
		Username:  username,
		Password:  "s3cretpass",
		FirstName: "Ana",
		LastName:  "Petrova",
		Address:   "1 Vitosha Blvd",
		Phone:     phone,
		Role:      domain.RoleBuyer,
	}
}

func TestProperty_RegistrationCreatesHashedPasswords(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(username string, password string) bool {
			f := newUserFixture(t)
			input := buyerInput(username, "+359888000111")
			input.Password = password

			user, err := f.service.Register(context.Background(), input)
			if err != nil {
				t.Logf("FAIL: registration rejected: %v", err)
				return false
			}
			if user.PasswordHash == password {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
		},
		gen.Identifier().SuchThat(func(s string) bool { return len(s) >= 3 && len(s) <= 150 }),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) >= MinPasswordLength && len(s) <= 72 }),
	))

	properties.TestingRun(t)
}

func TestRegister_Rules(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	admin := buyerInput("boss", "+359888000001")
	admin.Role = domain.RoleAdmin
	_, err := f.service.Register(ctx, admin)
	assert.ErrorIs(t, err, domain.ErrValidation)

	seller := buyerInput("seller", "+359888000002")
	seller.Role = domain.RoleSeller
	_, err = f.service.Register(ctx, seller)
	assert.ErrorIs(t, err, domain.ErrValidation, "sellers need a business name")

	seller.BusinessName = "Green Cross"
	_, err = f.service.Register(ctx, seller)
	require.NoError(t, err)

	buyer := buyerInput("buyer", "+359888000003")
	buyer.BusinessName = "Not allowed"
	_, err = f.service.Register(ctx, buyer)
	assert.ErrorIs(t, err, domain.ErrValidation)

	short := buyerInput("shorty", "+359888000004")
	short.Password = "123"
	_, err = f.service.Register(ctx, short)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegister_DuplicateFields(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, buyerInput("ana", "+359888000111"))
	require.NoError(t, err)

	_, err = f.service.Register(ctx, buyerInput("ana", "+359888000222"))
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "username", verrs[0].Field)

	_, err = f.service.Register(ctx, buyerInput("maria", "+359888000111"))
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "phone", verrs[0].Field)
}

func TestLoginRefreshLogout(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	registered, err := f.service.Register(ctx, buyerInput("ana", "+359888000111"))
	require.NoError(t, err)

	_, _, _, err = f.service.Login(ctx, "ana", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, _, err = f.service.Login(ctx, "nobody", "s3cretpass")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	access, refresh, user, err := f.service.Login(ctx, "ana", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	claims, err := f.tokens.Validate(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, domain.RoleBuyer, claims.Role)

	newAccess, err := f.service.RefreshToken(ctx, refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, newAccess)

	require.NoError(t, f.service.Logout(ctx, refresh))
	_, err = f.service.RefreshToken(ctx, refresh)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	assert.NoError(t, f.service.Logout(ctx, "unknown-token"))
}

func TestProfileAccess(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	ana, err := f.service.Register(ctx, buyerInput("ana", "+359888000111"))
	require.NoError(t, err)
	ivan, err := f.service.Register(ctx, buyerInput("ivan", "+359888000222"))
	require.NoError(t, err)

	anaActor := domain.Actor{ID: ana.ID, Role: domain.RoleBuyer}
	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	_, err = f.service.GetUser(ctx, anaActor, ivan.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.service.ListUsers(ctx, anaActor)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	users, err := f.service.ListUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	address := "2 Rakovski St"
	updated, err := f.service.UpdateUser(ctx, anaActor, ana.ID, domain.ProfileUpdate{Address: &address})
	require.NoError(t, err)
	assert.Equal(t, address, updated.Address)
	assert.Equal(t, "ana", updated.Username)

	takenPhone := ivan.Phone
	_, err = f.service.UpdateUser(ctx, anaActor, ana.ID, domain.ProfileUpdate{Phone: &takenPhone})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.ErrorIs(t, f.service.DeleteUser(ctx, anaActor, ivan.ID), domain.ErrForbidden)
	require.NoError(t, f.service.DeleteUser(ctx, admin, ivan.ID))
	_, err = f.service.GetUser(ctx, admin, ivan.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, buyerInput("ana", "+359888000111"))
	require.NoError(t, err)
	actor := domain.Actor{ID: user.ID, Role: user.Role}

	assert.ErrorIs(t, f.service.ChangePassword(ctx, actor, "wrong-pass", "newpassword"), domain.ErrValidation)
	assert.ErrorIs(t, f.service.ChangePassword(ctx, actor, "s3cretpass", "s3cretpass"), domain.ErrValidation)

	require.NoError(t, f.service.ChangePassword(ctx, actor, "s3cretpass", "newpassword"))
	_, _, _, err = f.service.Login(ctx, "ana", "newpassword")
	assert.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	phone := "+359888000111"

	_, err := f.service.Register(ctx, buyerInput("ana", phone))
	require.NoError(t, err)
	_, refresh, _, err := f.service.Login(ctx, "ana", "s3cretpass")
	require.NoError(t, err)

	require.NoError(t, f.service.ForgotPassword(ctx, "+359000000000"))
	assert.NotContains(t, f.sender.codes, "+359000000000")

	require.NoError(t, f.service.ForgotPassword(ctx, phone))
	code := f.sender.codes[phone]
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}
	assert.ErrorIs(t, f.service.ResetPassword(ctx, phone, wrong, "brandnewpass"), domain.ErrValidation)

	require.NoError(t, f.service.ResetPassword(ctx, phone, code, "brandnewpass"))
	assert.ErrorIs(t, f.service.ResetPassword(ctx, phone, code, "anotherpass1"), domain.ErrValidation)

	_, _, _, err = f.service.Login(ctx, "ana", "brandnewpass")
	assert.NoError(t, err)

	_, err = f.service.RefreshToken(ctx, refresh)
	assert.ErrorIs(t, err, auth.ErrInvalidToken, "reset revokes refresh tokens")
}

func TestForgotPassword_SendFailureDropsCode(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	phone := "+359888000111"

	_, err := f.service.Register(ctx, buyerInput("ana", phone))
	require.NoError(t, err)

	f.sender.err = fmt.Errorf("gateway down")
	err = f.service.ForgotPassword(ctx, phone)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gateway down"))
}

func TestForgotPassword_UnknownPhoneLooksLikeKnown(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	registered, unknown := "+359888000111", "+359888999999"

	_, err := f.service.Register(ctx, buyerInput("ana", registered))
	require.NoError(t, err)

	assert.NoError(t, f.service.ForgotPassword(ctx, registered))
	assert.NoError(t, f.service.ForgotPassword(ctx, unknown))

	assert.Contains(t, f.sender.codes, registered)
	assert.NotContains(t, f.sender.codes, unknown)
	assert.ErrorIs(t, f.service.ResetPassword(ctx, unknown, "123456", "brandnewpass"), domain.ErrValidation)
}
