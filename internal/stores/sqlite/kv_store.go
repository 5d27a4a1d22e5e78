package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sentinel-core/internal/database"
)

// KVStore implements external.KeyValueStore over SQLite. Values are
// msgpack-encoded before being written to the blob column; Clock's
// virtual-time keys and any structured cache value share the same
// compact on-disk representation.
type KVStore struct {
	db *database.DB
}

// NewKVStore wraps an initialized, migrated database.DB.
func NewKVStore(db *database.DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var blob []byte
	var expiresAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_store WHERE key = ?`, key).Scan(&blob, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if expiresAt.Valid {
		expiry, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil && time.Now().After(expiry) {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
			return "", false, nil
		}
	}

	var value string
	if err := msgpack.Unmarshal(blob, &value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	blob, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, blob, expiresAt)
	return err
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	return err
}
