// Package keystore persists small typed values (key pair, session, user
// profile, cache tracker) in the profile database, sealed at rest.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWrongPassphrase is returned when the keystore cannot be unsealed.
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase or corrupted value")

// Store is a secure, persistent key/value store of JSON-encodable values.
type Store interface {
	// GetRaw returns the stored bytes for key, or nil if absent.
	GetRaw(key string) ([]byte, error)
	// SetRaw writes every entry atomically.
	SetRaw(entries map[string][]byte) error
	// Delete removes keys. Missing keys are ignored.
	Delete(keys ...string) error
}

// Get decodes the value stored under key into T. The bool is false when the key is absent.
func Get[T any](s Store, key string) (T, bool, error) {
	var v T
	raw, err := s.GetRaw(key)
	if err != nil {
		return v, false, err
	}
	if raw == nil {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, true, nil
}

// Set encodes v and stores it under key.
func Set[T any](s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.SetRaw(map[string][]byte{key: raw})
}

// Batch collects several values to be written in one atomic SetRaw.
type Batch struct {
	entries map[string][]byte
	err     error
}

// Put adds v under key to the batch. Encoding errors surface from Commit.
func (b *Batch) Put(key string, v any) *Batch {
	if b.err != nil {
		return b
	}
	raw, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode %q: %w", key, err)
		return b
	}
	if b.entries == nil {
		b.entries = make(map[string][]byte)
	}
	b.entries[key] = raw
	return b
}

// Commit writes the batch.
func (b *Batch) Commit(s Store) error {
	if b.err != nil {
		return b.err
	}
	if len(b.entries) == 0 {
		return nil
	}
	return s.SetRaw(b.entries)
}
