package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/store"
	"github.com/hrygo/intentgate/store/db/memory"
)

func TestStore_Namespaces(t *testing.T) {
	ctx := context.Background()
	driver := memory.NewDB()
	s := store.New(driver, &profile.Profile{KeyPrefix: "test"})

	created, err := s.MarkProcessed(ctx, "telegram:1:2", time.Now(), time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	_, ok, err := driver.Get(ctx, "test:dedup:telegram:1:2")
	require.NoError(t, err)
	assert.True(t, ok)

	created, err = s.PutCacheEntry(ctx, "abc", []byte(`{}`), time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	payload, ok, err := s.GetCacheEntry(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{}`), payload)

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	n, err := s.IncrementUsage(ctx, store.CallerDailyCounter(now, "u1"), store.Day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	count, err := driver.Count(ctx, "test:usage:caller:2026-03-01:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	created, err = s.CreateAlertFlag(ctx, "hourly_spike", store.HourWindow(now), store.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateAlertFlag(ctx, "hourly_spike", store.HourWindow(now), store.Hour)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestStore_DefaultPrefix(t *testing.T) {
	ctx := context.Background()
	driver := memory.NewDB()
	s := store.New(driver, nil)

	_, err := s.AddUsage(ctx, store.DailyCounter(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), 41, store.Day)
	require.NoError(t, err)
	n, err := s.GetUsage(ctx, store.DailyCounter(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)

	count, err := driver.Count(ctx, "ig:usage:daily:2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(41), count)
}

func TestWindows(t *testing.T) {
	ts := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-12-31", store.DayWindow(ts))
	assert.Equal(t, "2026-12-31T23", store.HourWindow(ts))
	assert.Equal(t, "2026-12-31:alice", store.CallerDayWindow(ts, "alice"))
	assert.Equal(t, "hourly:2026-12-31T23", store.HourlyCounter(ts).String())
}

func TestKeyNamespace(t *testing.T) {
	assert.Equal(t, store.NamespaceCache, store.KeyNamespace("ig:cache:fp"))
	assert.Equal(t, store.NamespaceUsage, store.KeyNamespace("ig:usage:daily:2026-01-01"))
	assert.Equal(t, store.Namespace(""), store.KeyNamespace("cache"))
	assert.Equal(t, store.Namespace(""), store.KeyNamespace("ig:cache"))
}
