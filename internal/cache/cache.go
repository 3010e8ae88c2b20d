// Package cache provides the key/value store behind the drug read cache and
// the password-reset codes.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// DrugsListKey holds the serialized unfiltered drug list.
const DrugsListKey = "drugs"

// DrugKey returns the key of a single cached drug.
func DrugKey(id uuid.UUID) string {
	return "drug-" + id.String()
}

// FillKey returns the key marking a database load in progress for key.
func FillKey(key string) string {
	return key + ":fill"
}

// Store is a string key/value store with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl keeps the entry until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// CompareAndDelete removes key only if it currently holds expected and
	// reports whether it did. Two concurrent callers never both succeed.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
}
