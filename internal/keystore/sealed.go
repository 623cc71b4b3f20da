package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/matheus3301/tribe/internal/store"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltKey  = "keystore.salt"
	checkKey = "keystore.check"

	sealFormatVersion = 1
)

var checkValue = []byte("tribe-keystore")

// Params are the scrypt cost parameters used to derive the sealing key.
type Params struct {
	N, R, P int
}

// DefaultParams are the production scrypt costs.
var DefaultParams = Params{N: 1 << 15, R: 8, P: 1}

// Sealed is a Store over the profile database. Every value is sealed with
// XChaCha20-Poly1305 under a key derived from the passphrase; the key name
// is bound as associated data so values cannot be swapped between keys.
type Sealed struct {
	db   *store.DB
	aead cipher.AEAD
}

// Open derives the sealing key and verifies it against the stored check value,
// initializing salt and check on first use.
func Open(db *store.DB, passphrase string, params Params) (*Sealed, error) {
	salt, err := db.GetKV(saltKey)
	if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	fresh := salt == nil
	if fresh {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}

	key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	s := &Sealed{db: db, aead: aead}

	if fresh {
		check, err := s.seal(checkKey, checkValue)
		if err != nil {
			return nil, err
		}
		if err := db.PutKVs(store.KV{Key: saltKey, Value: salt}, store.KV{Key: checkKey, Value: check}); err != nil {
			return nil, fmt.Errorf("init keystore: %w", err)
		}
		return s, nil
	}

	sealed, err := db.GetKV(checkKey)
	if err != nil {
		return nil, fmt.Errorf("read check: %w", err)
	}
	if _, err := s.open(checkKey, sealed); err != nil {
		return nil, err
	}
	return s, nil
}

// GetRaw implements Store.
func (s *Sealed) GetRaw(key string) ([]byte, error) {
	sealed, err := s.db.GetKV(key)
	if err != nil || sealed == nil {
		return nil, err
	}
	return s.open(key, sealed)
}

// SetRaw implements Store.
func (s *Sealed) SetRaw(entries map[string][]byte) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]store.KV, 0, len(keys))
	for _, k := range keys {
		sealed, err := s.seal(k, entries[k])
		if err != nil {
			return err
		}
		rows = append(rows, store.KV{Key: k, Value: sealed})
	}
	return s.db.PutKVs(rows...)
}

// Delete implements Store.
func (s *Sealed) Delete(keys ...string) error {
	return s.db.DeleteKV(keys...)
}

// seal returns version || nonce || ciphertext.
func (s *Sealed) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, sealFormatVersion)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, []byte(key)), nil
}

func (s *Sealed) open(key string, sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < 1+ns || sealed[0] != sealFormatVersion {
		return nil, ErrWrongPassphrase
	}
	pt, err := s.aead.Open(nil, sealed[1:1+ns], sealed[1+ns:], []byte(key))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

var _ Store = (*Sealed)(nil)
