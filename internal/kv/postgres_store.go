package kv

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists key-value entries in PostgreSQL.
//
// Expiry is enforced at read time: Get and PutIfAbsent treat rows whose
// expires_at has passed as absent. Stale rows are overwritten on the next
// write for the same key; a periodic sweep is not required for correctness.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (p *PostgresStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`,
		key, value, expiresAt(ttl))
	return err
}

// PutIfAbsent is atomic: a single statement claims the key, replacing only
// rows that have already expired. Concurrent callers race in the database,
// not in application code.
func (p *PostgresStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= NOW()`,
		key, value, expiresAt(ttl))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	return err
}

// Ping reports whether the database is reachable. Used by health checks.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func expiresAt(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl)
}
