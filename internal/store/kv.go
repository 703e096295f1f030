package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	sqlKVGet    = `SELECT value FROM kv WHERE key = ?`
	sqlKVUpsert = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`
	sqlKVDelete = `DELETE FROM kv WHERE key IN (?)`
)

// KV is a string key-value table. It holds the cached user profile and the
// assigned/completed case lists fetched while online.
type KV struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

// KV returns the key-value view of the store.
func (s *Store) KV() *KV {
	return &KV{db: s.db, nowFunc: time.Now}
}

// Get returns the value for key. The boolean is false when the key is absent.
func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := kv.db.GetContext(ctx, &value, sqlKVGet, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("store: reading key %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	if _, err := kv.db.ExecContext(ctx, sqlKVUpsert, key, value, FormatTime(kv.nowFunc())); err != nil {
		return fmt.Errorf("store: writing key %s: %w", key, err)
	}

	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (kv *KV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	query, args, err := sqlx.In(sqlKVDelete, keys)
	if err != nil {
		return fmt.Errorf("store: building delete: %w", err)
	}

	if _, err := kv.db.ExecContext(ctx, kv.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("store: deleting keys: %w", err)
	}

	return nil
}

// GetJSON decodes the JSON value stored under key into v. It returns false
// without touching v when the key is absent.
func (kv *KV) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("store: decoding key %s: %w", key, err)
	}

	return true, nil
}

// SetJSON stores the JSON encoding of v under key.
func (kv *KV) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding key %s: %w", key, err)
	}

	return kv.Set(ctx, key, string(data))
}
