// Package cache provides the shared cache port with in-memory and
// Redis implementations. Handlers use it to avoid recomputing
// capability and model listings on every request.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheService defines the interface for a distributed cache system
type CacheService interface {
	// Get retrieves a value from the cache and unmarshals it into the
	// dest pointer. Returns ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in the cache with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	Close() error
}
