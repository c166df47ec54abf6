package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/intentgate/internal/profile"
)

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$12", placeholder(12))
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"url", "postgres://gate:secret@db:5432/gate?sslmode=disable", "postgres://gate:***@db:5432/gate?sslmode=disable"},
		{"url without password", "postgres://gate@db/gate", "postgres://gate@db/gate"},
		{"key value", "host=db user=gate password=secret dbname=gate", "host=db user=gate password=*** dbname=gate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redactDSN(tt.dsn))
		})
	}
}

func TestErrorsKeepCause(t *testing.T) {
	db, err := NewDB(&profile.Profile{DSN: "postgres://gate@127.0.0.1:1/gate?sslmode=disable"})
	require.NoError(t, err)
	defer db.Close()

	// A canceled context fails before any connection is dialed.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = db.SetNX(ctx, "ig:dedup:M1", []byte("1"), time.Minute)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Contains(t, err.Error(), "failed to set ig:dedup:M1 if absent")

	_, err = db.IncrBy(ctx, "ig:usage:daily:2026-01-01", 1, time.Minute)
	assert.Equal(t, context.Canceled, errors.Cause(err))

	_, err = db.Sweep(ctx)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

// TestPrimitives runs against a real server when INTENTGATE_TEST_POSTGRES_DSN is set.
func TestPrimitives(t *testing.T) {
	dsn := os.Getenv("INTENTGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTENTGATE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	db, err := NewDB(&profile.Profile{DSN: dsn})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.Migrate(ctx))

	key := "ig-test:dedup:" + time.Now().Format(time.RFC3339Nano)

	created, err := db.SetNX(ctx, key, []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.SetNX(ctx, key, []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	value, ok, err := db.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), value)

	counterKey := key + ":counter"
	n, err := db.IncrBy(ctx, counterKey, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = db.IncrBy(ctx, counterKey, 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := db.Count(ctx, counterKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
