package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/store"
)

// ============================================================================
// SQLITE SUPPORT POLICY
// ============================================================================
// SQLite gives atomic primitives for every process sharing the same database
// file on one host. It is not a multi-host store: deployments that scale out
// across machines must use postgres or dynamodb.
// ============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS gateway_kv (
	key        TEXT    NOT NULL PRIMARY KEY,
	value      BLOB,
	counter    INTEGER NOT NULL DEFAULT 0,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_kv_expires_at ON gateway_kv (expires_at);
`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	now     func() time.Time
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (*DB, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - Journal mode set to WAL: it's the recommended journal mode for most applications
	// as it prevents locking issues.
	// - busy_timeout lets concurrent processes on the same file wait for the write lock
	// instead of failing with SQLITE_BUSY.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single writer connection; every primitive is one statement.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile, now: time.Now}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return errors.Wrap(store.ErrUnavailable, err.Error())
	}
	return nil
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate gateway_kv")
	}
	return nil
}

func (d *DB) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := d.now()
	stmt := `INSERT INTO gateway_kv (key, value, counter, expires_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, counter = 0, expires_at = excluded.expires_at
		WHERE gateway_kv.expires_at <= ?
		RETURNING key`

	var created string
	err := d.db.QueryRowContext(ctx, stmt, key, value, millis(now.Add(ttl)), millis(now)).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to set %s if absent", key)
	}
	return true, nil
}

func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM gateway_kv WHERE key = ? AND expires_at > ?`,
		key, millis(d.now())).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get %s", key)
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (d *DB) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stmt := `INSERT INTO gateway_kv (key, value, counter, expires_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, counter = 0, expires_at = excluded.expires_at`
	if _, err := d.db.ExecContext(ctx, stmt, key, value, millis(d.now().Add(ttl))); err != nil {
		return errors.Wrapf(err, "failed to set %s", key)
	}
	return nil
}

func (d *DB) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	now := d.now()
	stmt := `INSERT INTO gateway_kv (key, value, counter, expires_at) VALUES (?, NULL, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			counter = CASE WHEN gateway_kv.expires_at <= ? THEN excluded.counter ELSE gateway_kv.counter + excluded.counter END,
			expires_at = CASE WHEN gateway_kv.expires_at <= ? THEN excluded.expires_at ELSE gateway_kv.expires_at END
		RETURNING counter`

	var counter int64
	nowMs := millis(now)
	if err := d.db.QueryRowContext(ctx, stmt, key, delta, millis(now.Add(ttl)), nowMs, nowMs).Scan(&counter); err != nil {
		return 0, errors.Wrapf(err, "failed to increment %s", key)
	}
	return counter, nil
}

func (d *DB) Count(ctx context.Context, key string) (int64, error) {
	var counter int64
	err := d.db.QueryRowContext(ctx,
		`SELECT counter FROM gateway_kv WHERE key = ? AND expires_at > ?`,
		key, millis(d.now())).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read counter %s", key)
	}
	return counter, nil
}

func (d *DB) Sweep(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM gateway_kv WHERE expires_at <= ?`, millis(d.now()))
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep expired keys")
	}
	return res.RowsAffected()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

var _ store.Driver = (*DB)(nil)
