package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/intentgate/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(opts ...Option) (*DB, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewDB(append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()

	created, err := db.SetNX(ctx, "k", []byte("v1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.SetNX(ctx, "k", []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	clock.Advance(time.Minute)
	created, err = db.SetNX(ctx, "k", []byte("v3"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	v, ok, err := db.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v3"), v)
}

func TestSetNX_Concurrent(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.SetNX(ctx, "dedup", []byte("x"), time.Hour)
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB()

	original := []byte("abc")
	require.NoError(t, db.Set(ctx, "k", original, time.Minute))
	original[0] = 'z'

	v, ok, err := db.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), v)

	v[1] = 'z'
	v2, _, _ := db.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), v2)
}

func TestIncrBy(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.IncrBy(ctx, "counter", 1, time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := db.Count(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	// Counter values are not readable through Get.
	_, ok, err := db.Get(ctx, "counter")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Hour)
	n, err = db.IncrBy(ctx, "counter", 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(WithCapacity(3))

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Set(ctx, fmt.Sprintf("ig:cache:k%d", i), []byte("v"), time.Hour))
	}
	// Touch k0 so k1 becomes the least recently used.
	_, _, _ = db.Get(ctx, "ig:cache:k0")
	require.NoError(t, db.Set(ctx, "ig:cache:k3", []byte("v"), time.Hour))

	assert.Equal(t, 3, db.Len())
	_, ok, _ := db.Get(ctx, "ig:cache:k1")
	assert.False(t, ok)
	_, ok, _ = db.Get(ctx, "ig:cache:k0")
	assert.True(t, ok)
}

func TestCapacity_KeepsLiveDedupRecords(t *testing.T) {
	ctx := context.Background()
	s := store.New(NewDB(WithCapacity(4)), nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	created, err := s.MarkProcessed(ctx, "M1", now, time.Hour)
	require.NoError(t, err)
	require.True(t, created)

	for i := 0; i < 6; i++ {
		stored, err := s.PutCacheEntry(ctx, fmt.Sprintf("fp%d", i), []byte("{}"), time.Hour)
		require.NoError(t, err)
		assert.True(t, stored)
	}

	created, err = s.MarkProcessed(ctx, "M1", now, time.Hour)
	require.NoError(t, err)
	assert.False(t, created, "re-delivered message must stay deduplicated")
}

func TestCapacity_KeepsLiveCounters(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(WithCapacity(2))

	n, err := db.IncrBy(ctx, "ig:usage:daily:2026-01-01", 5, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	require.NoError(t, db.Set(ctx, "ig:cache:a", []byte("v"), time.Hour))
	require.NoError(t, db.Set(ctx, "ig:cache:b", []byte("v"), time.Hour))

	n, err = db.Count(ctx, "ig:usage:daily:2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestCapacity_FullOfLiveKeys(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB(WithCapacity(2))

	ok, err := db.SetNX(ctx, "ig:dedup:M1", []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = db.IncrBy(ctx, "ig:usage:hourly:2026-01-01T00", 1, time.Hour)
	require.NoError(t, err)

	_, err = db.SetNX(ctx, "ig:dedup:M2", []byte("1"), time.Minute)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = db.IncrBy(ctx, "ig:alert:x", 1, time.Minute)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorIs(t, db.Set(ctx, "ig:cache:fp", []byte("v"), time.Minute), store.ErrUnavailable)

	// Once the dedup record expires its slot is reclaimed.
	clock.Advance(2 * time.Minute)
	ok, err = db.SetNX(ctx, "ig:dedup:M2", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, db.Len())
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestDB()

	require.NoError(t, db.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, db.Set(ctx, "b", []byte("1"), time.Second))
	require.NoError(t, db.Set(ctx, "c", []byte("1"), time.Hour))

	clock.Advance(2 * time.Second)
	removed, err := db.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, db.Len())
}
