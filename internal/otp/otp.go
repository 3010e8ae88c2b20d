// Package otp issues and verifies the single-use codes of the password reset flow.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"pharmacy-market/internal/cache"
)

const (
	// DefaultTTL is how long an issued code stays valid
	DefaultTTL = 60 * time.Second

	codeMin = 100000
	codeMax = 999999
)

// ErrInvalidCode is returned when a code is wrong, expired or already used.
var ErrInvalidCode = errors.New("invalid or expired code")

// Store keeps one outstanding code per subject in a cache.Store.
type Store struct {
	store cache.Store
	ttl   time.Duration
}

// NewStore creates an OTP store. A non-positive ttl uses DefaultTTL.
func NewStore(store cache.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: store, ttl: ttl}
}

func key(subject string) string {
	return "otp:" + subject
}

// Issue generates a fresh code for subject, replacing any earlier one.
func (s *Store) Issue(ctx context.Context, subject string) (string, error) {
	code, err := generate()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, key(subject), []byte(code), s.ttl); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}
	return code, nil
}

// Verify consumes the code for subject. A wrong code leaves the stored one in place.
func (s *Store) Verify(ctx context.Context, subject, code string) error {
	if len(code) != 6 {
		return ErrInvalidCode
	}
	ok, err := s.store.CompareAndDelete(ctx, key(subject), []byte(code))
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// Invalidate drops any outstanding code for subject.
func (s *Store) Invalidate(ctx context.Context, subject string) error {
	return s.store.Delete(ctx, key(subject))
}

func generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
