package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/store"
)

const defaultTable = "gateway_kv"

// nowMs is evaluated by the server so every gateway instance shares one clock.
const nowMs = `(EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	table   string
}

// NewDB opens a connection pool to the postgres database named by profile.DSN.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// Open the PostgreSQL connection
	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", redactDSN(profile.DSN))
	}

	return &DB{
		db:      db,
		profile: profile,
		table:   pq.QuoteIdentifier(defaultTable),
	}, nil
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
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	key        TEXT   NOT NULL PRIMARY KEY,
	value      BYTEA,
	counter    BIGINT NOT NULL DEFAULT 0,
	expires_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (expires_at);`,
		d.table, pq.QuoteIdentifier("idx_"+defaultTable+"_expires_at"))

	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to migrate %s", defaultTable)
	}
	return nil
}

func (d *DB) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	stmt := `INSERT INTO ` + d.table + ` (key, value, counter, expires_at)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, 0, ` + nowMs + ` + ` + placeholder(3) + `)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, counter = 0, expires_at = EXCLUDED.expires_at
		WHERE ` + d.table + `.expires_at <= ` + nowMs + `
		RETURNING key`

	var created string
	err := d.db.QueryRowContext(ctx, stmt, key, value, ttl.Milliseconds()).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to set %s if absent", key)
	}
	return true, nil
}

func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT value FROM ` + d.table + ` WHERE key = ` + placeholder(1) + ` AND expires_at > ` + nowMs

	var value []byte
	err := d.db.QueryRowContext(ctx, query, key).Scan(&value)
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
	stmt := `INSERT INTO ` + d.table + ` (key, value, counter, expires_at)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, 0, ` + nowMs + ` + ` + placeholder(3) + `)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, counter = 0, expires_at = EXCLUDED.expires_at`

	if _, err := d.db.ExecContext(ctx, stmt, key, value, ttl.Milliseconds()); err != nil {
		return errors.Wrapf(err, "failed to set %s", key)
	}
	return nil
}

func (d *DB) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	stmt := `INSERT INTO ` + d.table + ` (key, value, counter, expires_at)
		VALUES (` + placeholder(1) + `, NULL, ` + placeholder(2) + `, ` + nowMs + ` + ` + placeholder(3) + `)
		ON CONFLICT (key) DO UPDATE SET
			counter = CASE WHEN ` + d.table + `.expires_at <= ` + nowMs + `
				THEN EXCLUDED.counter ELSE ` + d.table + `.counter + EXCLUDED.counter END,
			expires_at = CASE WHEN ` + d.table + `.expires_at <= ` + nowMs + `
				THEN EXCLUDED.expires_at ELSE ` + d.table + `.expires_at END
		RETURNING counter`

	var counter int64
	if err := d.db.QueryRowContext(ctx, stmt, key, delta, ttl.Milliseconds()).Scan(&counter); err != nil {
		return 0, errors.Wrapf(err, "failed to increment %s", key)
	}
	return counter, nil
}

func (d *DB) Count(ctx context.Context, key string) (int64, error) {
	query := `SELECT counter FROM ` + d.table + ` WHERE key = ` + placeholder(1) + ` AND expires_at > ` + nowMs

	var counter int64
	err := d.db.QueryRowContext(ctx, query, key).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read counter %s", key)
	}
	return counter, nil
}

func (d *DB) Sweep(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM `+d.table+` WHERE expires_at <= `+nowMs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep expired keys")
	}
	return res.RowsAffected()
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

// redactDSN hides the password of a postgres URL or key/value DSN.
func redactDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		at := strings.LastIndex(dsn, "@")
		scheme := strings.Index(dsn, "://") + 3
		if at > scheme {
			if colon := strings.Index(dsn[scheme:at], ":"); colon >= 0 {
				return dsn[:scheme+colon+1] + "***" + dsn[at:]
			}
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}

var _ store.Driver = (*DB)(nil)
