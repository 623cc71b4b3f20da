package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetKV returns the value stored under key, or nil if absent.
func (db *DB) GetKV(key string) ([]byte, error) {
	var v []byte
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// PutKV inserts or replaces a single value.
func (db *DB) PutKV(key string, value []byte) error {
	return db.PutKVs(KV{Key: key, Value: value})
}

// PutKVs writes all entries in one transaction; either every value lands or none does.
func (db *DB) PutKVs(entries ...KV) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			e.Key, e.Value, now); err != nil {
			return fmt.Errorf("put %q: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// DeleteKV removes the given keys. Missing keys are ignored.
func (db *DB) DeleteKV(keys ...string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("delete %q: %w", k, err)
		}
	}
	return tx.Commit()
}
