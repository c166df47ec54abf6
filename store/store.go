package store

import (
	"context"
	"time"

	"github.com/hrygo/intentgate/internal/profile"
)

// Store provides namespaced access to the atomic backing store.
//
// The four logical namespaces (dedup records, cache entries, usage counters and
// alert flags) share one driver; each gets its own key prefix.
type Store struct {
	profile *profile.Profile
	driver  Driver
	prefix  string
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	prefix := "ig"
	if profile != nil && profile.KeyPrefix != "" {
		prefix = profile.KeyPrefix
	}
	return &Store{
		driver:  driver,
		profile: profile,
		prefix:  prefix,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Sweep(ctx context.Context) (int64, error) {
	return s.driver.Sweep(ctx)
}

// MarkProcessed writes the dedup record for a message id.
// Returns false when the record already existed.
func (s *Store) MarkProcessed(ctx context.Context, messageID string, processedAt time.Time, ttl time.Duration) (bool, error) {
	value := []byte(processedAt.UTC().Format(time.RFC3339Nano))
	return s.driver.SetNX(ctx, s.key(NamespaceDedup, messageID), value, ttl)
}

// GetCacheEntry returns a cached payload by fingerprint.
func (s *Store) GetCacheEntry(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	return s.driver.Get(ctx, s.key(NamespaceCache, fingerprint))
}

// PutCacheEntry stores a payload by fingerprint. The first writer wins until expiry.
func (s *Store) PutCacheEntry(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) (bool, error) {
	return s.driver.SetNX(ctx, s.key(NamespaceCache, fingerprint), payload, ttl)
}

// IncrementUsage increments a usage counter for its window and returns the new count.
func (s *Store) IncrementUsage(ctx context.Context, counter CounterKey, ttl time.Duration) (int64, error) {
	return s.driver.IncrBy(ctx, s.key(NamespaceUsage, counter.String()), 1, ttl)
}

// AddUsage adds delta to a usage counter; used to preload counters in operations tooling.
func (s *Store) AddUsage(ctx context.Context, counter CounterKey, delta int64, ttl time.Duration) (int64, error) {
	return s.driver.IncrBy(ctx, s.key(NamespaceUsage, counter.String()), delta, ttl)
}

// GetUsage reads a usage counter without incrementing it.
func (s *Store) GetUsage(ctx context.Context, counter CounterKey) (int64, error) {
	return s.driver.Count(ctx, s.key(NamespaceUsage, counter.String()))
}

// CreateAlertFlag creates the alert flag for (kind, window).
// Returns false when the flag already existed.
func (s *Store) CreateAlertFlag(ctx context.Context, kind, windowID string, ttl time.Duration) (bool, error) {
	return s.driver.SetNX(ctx, s.key(NamespaceAlert, kind+":"+windowID), []byte("1"), ttl)
}

func (s *Store) key(ns Namespace, suffix string) string {
	return s.prefix + ":" + string(ns) + ":" + suffix
}
