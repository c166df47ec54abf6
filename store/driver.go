package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by drivers when the backing store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Driver is the atomic key/value backend shared by every gateway instance.
//
// Every mutation is a single atomic primitive of the backing store. Keys carry
// their own expiry; an expired key behaves exactly like an absent one.
type Driver interface {
	// SetNX creates key with value if it is absent or expired.
	// It returns true only for the single caller that created the key.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value of a live key, or (nil, false, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes key unconditionally.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// IncrBy atomically adds delta to the counter stored at key and returns the new value.
	// The ttl is applied only when the counter is created (or recreated after expiry).
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Count returns the current value of a live counter, 0 when absent.
	Count(ctx context.Context, key string) (int64, error)

	// Sweep deletes expired keys and returns how many were removed.
	// Drivers with native expiry return 0.
	Sweep(ctx context.Context) (int64, error)

	// Migrate prepares the backing schema.
	Migrate(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
