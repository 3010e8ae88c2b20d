package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is an account's permission tier.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleBuyer:
		return true
	}
	return false
}

// User represents a marketplace account
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username" validate:"required,min=3,max=150"`
	FirstName    string    `json:"first_name" db:"first_name" validate:"required,max=30"`
	LastName     string    `json:"last_name" db:"last_name" validate:"required,max=30"`
	BusinessName string    `json:"business_name,omitempty" db:"business_name" validate:"max=255"`
	Address      string    `json:"address" db:"address" validate:"max=255"`
	Email        string    `json:"email,omitempty" db:"email" validate:"omitempty,email"`
	Phone        string    `json:"phone" db:"phone" validate:"required,phone"`
	Role         Role      `json:"role" db:"role" validate:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"date_joined" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ProfileUpdate carries the fields a user may change on their own profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName    *string
	LastName     *string
	BusinessName *string
	Address      *string
	Email        *string
	Phone        *string
}

// Apply copies the non-nil fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.BusinessName != nil {
		u.BusinessName = *p.BusinessName
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
}

// RefreshToken represents a stored refresh token
type RefreshToken struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Revoked   bool      `json:"revoked" db:"revoked"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Authenticated reports whether the actor carries an identity.
func (a Actor) Authenticated() bool {
	return a.ID != uuid.Nil && a.Role.Valid()
}
