// Package memory implements an in-process store.Driver.
//
// It is atomic only within one process and is meant for tests, local
// development and single-instance deployments. Multi-instance deployments
// must use the sqlite (single node), postgres or dynamodb drivers.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/hrygo/intentgate/store"
)

const defaultCapacity = 100_000

type entry struct {
	expiresAt time.Time
	element   *list.Element
	key       string
	value     []byte
	counter   int64
}

// DB is a size-bounded key/value map with per-key expiry.
//
// At capacity only expired keys and cache entries are evicted; dedup records,
// usage counters and alert flags stay until they expire. When nothing can be
// evicted writes fail with store.ErrUnavailable.
type DB struct {
	mu        sync.Mutex
	entries   map[string]*entry
	order     *list.List
	capacity  int
	now       func() time.Time
	evictable func(key string) bool
}

// Option configures a DB.
type Option func(*DB)

// WithCapacity bounds the number of stored keys.
func WithCapacity(capacity int) Option {
	return func(d *DB) {
		if capacity > 0 {
			d.capacity = capacity
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithEvictable replaces the predicate selecting which live keys may be
// evicted at capacity. The default allows only the cache namespace.
func WithEvictable(evictable func(key string) bool) Option {
	return func(d *DB) {
		d.evictable = evictable
	}
}

func isCacheKey(key string) bool {
	return store.KeyNamespace(key) == store.NamespaceCache
}

// NewDB creates an empty in-memory driver.
func NewDB(opts ...Option) *DB {
	d := &DB{
		entries:  make(map[string]*entry),
		order:    list.New(),
		capacity:  defaultCapacity,
		now:       time.Now,
		evictable: isCacheKey,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DB) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e := d.live(key); e != nil {
		return false, nil
	}
	if _, err := d.put(key, value, 0, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) Get(_ context.Context, key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.live(key)
	if e == nil || e.value == nil {
		return nil, false, nil
	}
	d.order.MoveToFront(e.element)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (d *DB) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok {
		d.remove(e)
	}
	_, err := d.put(key, value, 0, ttl)
	return err
}

func (d *DB) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e := d.live(key); e != nil {
		e.counter += delta
		d.order.MoveToFront(e.element)
		return e.counter, nil
	}
	e, err := d.put(key, nil, delta, ttl)
	if err != nil {
		return 0, err
	}
	return e.counter, nil
}

func (d *DB) Count(_ context.Context, key string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e := d.live(key); e != nil {
		return e.counter, nil
	}
	return 0, nil
}

// Sweep removes all expired entries.
func (d *DB) Sweep(_ context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sweepExpired(), nil
}

func (d *DB) Migrate(context.Context) error { return nil }

func (d *DB) Ping(context.Context) error { return nil }

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]*entry)
	d.order.Init()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (d *DB) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// live returns the entry for key if it exists and has not expired.
// Expired entries are removed. Must be called with lock held.
func (d *DB) live(key string) *entry {
	e, ok := d.entries[key]
	if !ok {
		return nil
	}
	if !d.now().Before(e.expiresAt) {
		d.remove(e)
		return nil
	}
	return e
}

// put inserts a new entry. At capacity it drops expired entries first, then
// the least recently used evictable ones. Must be called with lock held.
func (d *DB) put(key string, value []byte, counter int64, ttl time.Duration) (*entry, error) {
	if len(d.entries) >= d.capacity {
		d.sweepExpired()
	}
	for len(d.entries) >= d.capacity {
		victim := d.oldestEvictable()
		if victim == nil {
			return nil, store.ErrUnavailable
		}
		d.remove(victim)
	}

	var stored []byte
	if value != nil {
		stored = make([]byte, len(value))
		copy(stored, value)
	}
	e := &entry{
		key:       key,
		value:     stored,
		counter:   counter,
		expiresAt: d.now().Add(ttl),
	}
	e.element = d.order.PushFront(e)
	d.entries[key] = e
	return e, nil
}

// sweepExpired removes every expired entry. Must be called with lock held.
func (d *DB) sweepExpired() int64 {
	now := d.now()
	var toDelete []*entry
	for _, e := range d.entries {
		if !now.Before(e.expiresAt) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		d.remove(e)
	}
	return int64(len(toDelete))
}

// oldestEvictable returns the least recently used evictable entry, or nil.
// Must be called with lock held.
func (d *DB) oldestEvictable() *entry {
	if d.evictable == nil {
		return nil
	}
	for el := d.order.Back(); el != nil; el = el.Prev() {
		if e := el.Value.(*entry); d.evictable(e.key) {
			return e
		}
	}
	return nil
}

// remove deletes an entry. Must be called with lock held.
func (d *DB) remove(e *entry) {
	d.order.Remove(e.element)
	delete(d.entries, e.key)
}

var _ store.Driver = (*DB)(nil)
